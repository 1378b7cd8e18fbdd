// Package optimizer implements the memory optimiser (§4.5): a strategy-
// tagged detect → plan → execute pipeline over the corpus's projected
// user/agent/resources/global memories, with dry-run, conservative mode,
// and job status tracking for concurrent optimisation runs.
package optimizer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"cortexmem/internal/classification"
	"cortexmem/internal/cortexerr"
	"cortexmem/internal/cortextypes"
	"cortexmem/internal/storage"
)

// Manager coordinates the detector/analyzer/executor trio and tracks
// in-flight optimisation jobs, matching the original's
// `running_optimizations` RWMutex-guarded map.
type Manager struct {
	fs       *storage.Filesystem
	detector *detector
	executor *executor
	cfg      Config

	mu      sync.RWMutex
	running map[string]*cortextypes.OptimizationResult
	cancels map[string]context.CancelFunc
}

func NewManager(fs *storage.Filesystem, cfg Config, merger Merger, classifier classification.Classifier) *Manager {
	if cfg.MaxActionsPerPlan <= 0 {
		cfg.MaxActionsPerPlan = DefaultConfig().MaxActionsPerPlan
	}
	if cfg.StalenessDays <= 0 {
		cfg.StalenessDays = DefaultConfig().StalenessDays
	}
	if cfg.MinQualityChars <= 0 {
		cfg.MinQualityChars = DefaultConfig().MinQualityChars
	}
	return &Manager{
		fs:       fs,
		detector: newDetector(fs, cfg),
		executor: newExecutor(fs, merger, classifier),
		cfg:      cfg,
		running:  map[string]*cortextypes.OptimizationResult{},
		cancels:  map[string]context.CancelFunc{},
	}
}

// Optimize runs the full detect → plan → execute pipeline for request,
// honouring DryRun, ConservativeMode, and TimeoutMinutes.
func (m *Manager) Optimize(ctx context.Context, request cortextypes.OptimizationRequest) (cortextypes.OptimizationResult, error) {
	jobID := request.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	} else if existing, ok := m.existingJob(jobID); ok {
		return cortextypes.OptimizationResult{}, cortexerr.Busy(
			"optimisation job %s already exists with status %s", jobID, existing.Status)
	}

	if request.TimeoutMinutes > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(request.TimeoutMinutes)*time.Minute)
		defer cancel()
		m.mu.Lock()
		m.cancels[jobID] = cancel
		m.mu.Unlock()
	}

	result := cortextypes.OptimizationResult{JobID: jobID, Status: cortextypes.JobRunning, Progress: 0, StartedAt: time.Now().UTC()}
	m.setStatus(jobID, result)

	log.Info().Str("job_id", jobID).Str("strategy", string(request.Strategy)).Msg("starting memory optimisation")

	cfg := m.cfg
	cfg.MaxActionsPerPlan = pickPositive(request.MaxActionsPerPlan, cfg.MaxActionsPerPlan)
	cfg.ConservativeMode = request.ConservativeMode

	result.Progress = 20
	result.Status = cortextypes.JobRunning
	m.setStatus(jobID, result)
	issues, err := m.detector.detectIssues(ctx, request.Filters)
	if err != nil {
		return m.fail(jobID, result, err)
	}

	result.Progress = 40
	m.setStatus(jobID, result)
	plan := createPlan(issues, request.Strategy, cfg)
	result.IssuesFound = plan.Issues

	result.Progress = 80
	m.setStatus(jobID, result)

	start := time.Now().UTC()
	var performed []cortextypes.MemoryAction
	if request.DryRun {
		performed = plan.Actions
	} else {
		performed = m.executor.execute(ctx, jobID, plan.Actions)
	}
	end := time.Now().UTC()

	result.ActionsPerformed = performed
	result.Metrics = &cortextypes.OptimizationMetrics{
		MemoriesScanned:  len(issues),
		IssuesFound:      len(plan.Issues),
		ActionsPerformed: len(performed),
		DurationMS:       end.Sub(start).Milliseconds(),
	}
	result.Progress = 100
	result.Status = cortextypes.JobCompleted
	result.FinishedAt = end
	m.setStatus(jobID, result)

	m.mu.Lock()
	delete(m.cancels, jobID)
	m.mu.Unlock()

	log.Info().Str("job_id", jobID).Int("actions", len(performed)).Msg("optimisation complete")
	return result, nil
}

// existingJob reports whether jobID is already tracked — either still
// running or finished. Tracked jobs are never removed, so a
// caller-supplied jobID names one run and cannot be reused.
func (m *Manager) existingJob(jobID string) (cortextypes.OptimizationResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.running[jobID]
	if !ok {
		return cortextypes.OptimizationResult{}, false
	}
	return *r, true
}

func (m *Manager) fail(jobID string, result cortextypes.OptimizationResult, err error) (cortextypes.OptimizationResult, error) {
	result.Status = cortextypes.JobFailed
	result.Error = err.Error()
	result.FinishedAt = time.Now().UTC()
	m.setStatus(jobID, result)
	return result, err
}

func (m *Manager) setStatus(jobID string, result cortextypes.OptimizationResult) {
	cp := result
	m.mu.Lock()
	m.running[jobID] = &cp
	m.mu.Unlock()
}

// CreatePlan previews a strategy's plan without executing it.
func (m *Manager) CreatePlan(ctx context.Context, strategy cortextypes.OptimizationStrategy) (cortextypes.OptimizationPlan, error) {
	issues, err := m.detector.detectIssues(ctx, cortextypes.NewFilters())
	if err != nil {
		return cortextypes.OptimizationPlan{}, err
	}
	return createPlan(issues, strategy, m.cfg), nil
}

// Status returns a snapshot of every job tracked since the Manager was
// created, running or finished; no method removes tracked jobs.
func (m *Manager) Status() []cortextypes.OptimizationResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]cortextypes.OptimizationResult, 0, len(m.running))
	for _, r := range m.running {
		out = append(out, *r)
	}
	return out
}

// Cancel aborts a running job by cancelling its context and marking its
// tracked status Cancelled.
func (m *Manager) Cancel(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.cancels[jobID]; ok {
		cancel()
	}
	if r, ok := m.running[jobID]; ok {
		r.Status = cortextypes.JobCancelled
	}
	log.Info().Str("job_id", jobID).Msg("optimisation cancelled")
	return nil
}

func pickPositive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

package optimizer

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"cortexmem/internal/classification"
	"cortexmem/internal/cortextypes"
	"cortexmem/internal/cortexuri"
	"cortexmem/internal/llmclient"
	"cortexmem/internal/storage"
)

const (
	executorBatchSize       = 100
	executorInterBatchPause = 100 * time.Millisecond
)

// Merger combines the content of several duplicate memories into one,
// mirroring the LLM-first/rule-based-fallback shape used by the layer
// manager and classifier.
type Merger interface {
	Merge(ctx context.Context, contents []string) (string, error)
}

type ruleBasedMerger struct{}

func NewRuleBasedMerger() Merger { return ruleBasedMerger{} }

func (ruleBasedMerger) Merge(ctx context.Context, contents []string) (string, error) {
	return strings.Join(contents, "\n\n---\n\n"), nil
}

// llmMerger asks the configured LLM to fold several duplicate memories
// into one coherent note, falling back to the rule-based join on
// transport failure or an empty completion.
type llmMerger struct {
	client   llmclient.Client
	fallback Merger
}

func NewLLMMerger(client llmclient.Client) Merger {
	return &llmMerger{client: client, fallback: NewRuleBasedMerger()}
}

const mergeSystemPrompt = "You merge near-duplicate memory notes into one concise note that preserves every distinct fact. Reply with only the merged note."

func (m *llmMerger) Merge(ctx context.Context, contents []string) (string, error) {
	prompt := "Merge these memories:\n\n" + strings.Join(contents, "\n\n---\n\n")
	merged, err := m.client.Complete(ctx, mergeSystemPrompt, prompt)
	if err != nil {
		return m.fallback.Merge(ctx, contents)
	}
	merged = strings.TrimSpace(merged)
	if merged == "" {
		return m.fallback.Merge(ctx, contents)
	}
	return merged, nil
}

// NewMerger builds a Merger per useLLM, mirroring classification.New and
// extraction.New's selection policy.
func NewMerger(client llmclient.Client, useLLM bool) Merger {
	if useLLM && client != nil {
		return NewLLMMerger(client)
	}
	return NewRuleBasedMerger()
}

// executor applies a plan's actions in batches, per §4.5 "the executor
// applies actions in batches with small inter-batch pauses".
type executor struct {
	fs         *storage.Filesystem
	merger     Merger
	classifier classification.Classifier
}

func newExecutor(fs *storage.Filesystem, merger Merger, classifier classification.Classifier) *executor {
	if merger == nil {
		merger = NewRuleBasedMerger()
	}
	return &executor{fs: fs, merger: merger, classifier: classifier}
}

// execute runs every action in plan, returning the ones that actually
// performed work (a failed action is logged and skipped, matching the
// original's "continue on error, don't abort the whole run" behaviour).
func (e *executor) execute(ctx context.Context, jobID string, actions []cortextypes.MemoryAction) []cortextypes.MemoryAction {
	var performed []cortextypes.MemoryAction

	for start := 0; start < len(actions); start += executorBatchSize {
		end := start + executorBatchSize
		if end > len(actions) {
			end = len(actions)
		}
		batch := actions[start:end]

		for _, action := range batch {
			if err := e.executeOne(ctx, action); err != nil {
				log.Error().Err(err).Str("job_id", jobID).Str("kind", action.Kind).Msg("optimisation action failed")
				continue
			}
			performed = append(performed, action)
		}

		if end < len(actions) {
			select {
			case <-ctx.Done():
				return performed
			case <-time.After(executorInterBatchPause):
			}
		}
	}
	return performed
}

func (e *executor) executeOne(ctx context.Context, action cortextypes.MemoryAction) error {
	switch action.Kind {
	case "Merge":
		return e.executeMerge(ctx, action.IDs)
	case "Delete":
		return e.executeDelete(action.ID)
	case "Archive":
		return e.executeArchive(action.ID)
	case "Update":
		return e.executeUpdate(action.ID, action.Changes)
	case "Reclassify":
		return e.executeReclassify(ctx, action.ID)
	default:
		return nil
	}
}

func (e *executor) executeMerge(ctx context.Context, ids []string) error {
	if len(ids) < 2 {
		return nil
	}
	uris := make([]*cortexuri.URI, 0, len(ids))
	contents := make([]string, 0, len(ids))
	for _, id := range ids {
		u, err := cortexuri.Parse(id)
		if err != nil {
			continue
		}
		content, err := e.fs.Read(u)
		if err != nil {
			continue
		}
		uris = append(uris, u)
		contents = append(contents, content)
	}
	if len(uris) < 2 {
		return nil
	}

	merged, err := e.merger.Merge(ctx, contents)
	if err != nil {
		return err
	}

	base := uris[0]
	if err := e.fs.Write(base, merged); err != nil {
		return err
	}
	for _, u := range uris[1:] {
		if err := e.fs.Delete(u); err != nil {
			log.Warn().Err(err).Str("uri", u.String()).Msg("failed to delete merged-away memory")
			continue
		}
		removeSidecarEntry(e.fs, u)
	}
	return nil
}

func (e *executor) executeDelete(id string) error {
	u, err := cortexuri.Parse(id)
	if err != nil {
		return err
	}
	if err := e.fs.Delete(u); err != nil {
		return err
	}
	removeSidecarEntry(e.fs, u)
	return nil
}

func (e *executor) executeArchive(id string) error {
	u, err := cortexuri.Parse(id)
	if err != nil {
		return err
	}
	dir := u.DirectoryURI()
	name := fileName(u)
	sc, err := loadSidecar(e.fs, dir)
	if err != nil {
		return err
	}
	meta := sc[name]
	if meta.Custom == nil {
		meta.Custom = map[string]any{}
	}
	meta.Custom["archived"] = true
	meta.Custom["archived_at"] = time.Now().UTC().Format(time.RFC3339)
	sc[name] = meta
	return saveSidecar(e.fs, dir, sc)
}

func (e *executor) executeUpdate(id string, changes map[string]any) error {
	u, err := cortexuri.Parse(id)
	if err != nil {
		return err
	}
	if content, ok := changes["content"].(string); ok {
		if err := e.fs.Write(u, content); err != nil {
			return err
		}
	}
	dir := u.DirectoryURI()
	name := fileName(u)
	sc, err := loadSidecar(e.fs, dir)
	if err != nil {
		return err
	}
	meta := sc[name]
	if meta.Custom == nil {
		meta.Custom = map[string]any{}
	}
	for k, v := range changes {
		if k == "content" {
			continue
		}
		meta.Custom[k] = v
	}
	sc[name] = meta
	return saveSidecar(e.fs, dir, sc)
}

func (e *executor) executeReclassify(ctx context.Context, id string) error {
	if e.classifier == nil {
		return nil
	}
	u, err := cortexuri.Parse(id)
	if err != nil {
		return err
	}
	content, err := e.fs.Read(u)
	if err != nil {
		return err
	}
	memType, err := e.classifier.Classify(ctx, content)
	if err != nil {
		return err
	}
	dir := u.DirectoryURI()
	name := fileName(u)
	sc, err := loadSidecar(e.fs, dir)
	if err != nil {
		return err
	}
	meta := sc[name]
	meta.MemoryType = memType
	sc[name] = meta
	return saveSidecar(e.fs, dir, sc)
}

// fileName extracts the final path segment of u, regardless of which
// positional field a prior .Child()-based walk left it in.
func fileName(u *cortexuri.URI) string {
	switch {
	case u.Resource != "":
		if idx := strings.LastIndexByte(u.Resource, '/'); idx >= 0 {
			return u.Resource[idx+1:]
		}
		return u.Resource
	case u.Subcategory != "":
		return u.Subcategory
	case u.Category != "":
		return u.Category
	default:
		return u.ID
	}
}

func removeSidecarEntry(fs *storage.Filesystem, u *cortexuri.URI) {
	dir := u.DirectoryURI()
	name := fileName(u)
	sc, err := loadSidecar(fs, dir)
	if err != nil {
		return
	}
	if _, ok := sc[name]; !ok {
		return
	}
	delete(sc, name)
	_ = saveSidecar(fs, dir, sc)
}

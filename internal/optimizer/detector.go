package optimizer

import (
	"context"
	"time"

	"cortexmem/internal/cortextypes"
	"cortexmem/internal/cortexuri"
	"cortexmem/internal/storage"
)

// Config tunes the detector's thresholds. Zero StalenessDays,
// MinQualityChars and MaxActionsPerPlan fall back to the defaults in
// DefaultConfig; a zero CriticalStalenessDays disables critical severity.
type Config struct {
	StalenessDays        int // ModTime older than this is "outdated"
	CriticalStalenessDays int // older than this is critical severity
	MinQualityChars      int // content shorter than this is "low quality"
	MaxActionsPerPlan    int
	ConservativeMode     bool
}

func DefaultConfig() Config {
	return Config{
		StalenessDays:         180,
		CriticalStalenessDays: 365,
		MinQualityChars:       20,
		MaxActionsPerPlan:     5000,
	}
}

// memoryRef is one scanned markdown file under a user/agent/global/
// resources "memories" tree, together with its sidecar metadata.
type memoryRef struct {
	uri      *cortexuri.URI
	dirURI   *cortexuri.URI
	filename string
	content  string
	modTime  time.Time
	meta     cortextypes.MemoryMetadata
}

// detector scans the corpus for optimisable problems (§4.5 "the
// detector scans the corpus"). Session timelines are append-only audit
// logs and are intentionally excluded — only projected memories under
// user/agent/resources/global are candidates for merge/delete/archive.
type detector struct {
	fs  *storage.Filesystem
	cfg Config
}

func newDetector(fs *storage.Filesystem, cfg Config) *detector {
	return &detector{fs: fs, cfg: cfg}
}

var scannedDimensions = []cortexuri.Dimension{
	cortexuri.DimensionUser,
	cortexuri.DimensionAgent,
	cortexuri.DimensionResources,
	cortexuri.DimensionGlobal,
}

func (d *detector) scan(ctx context.Context, filters cortextypes.Filters) ([]memoryRef, error) {
	var refs []memoryRef
	for _, dim := range scannedDimensions {
		root := &cortexuri.URI{Dimension: dim}
		ids, err := d.fs.ListNames(root)
		if err != nil {
			continue
		}
		for _, id := range ids {
			if filters.UserID != "" && dim == cortexuri.DimensionUser && id != filters.UserID {
				continue
			}
			if filters.AgentID != "" && dim == cortexuri.DimensionAgent && id != filters.AgentID {
				continue
			}
			found, err := d.scanEntity(root.Child(id))
			if err != nil {
				continue
			}
			refs = append(refs, found...)
		}
	}
	if filters.MemoryType != nil {
		filtered := refs[:0]
		for _, r := range refs {
			if r.meta.MemoryType == *filters.MemoryType {
				filtered = append(filtered, r)
			}
		}
		refs = filtered
	}
	return refs, nil
}

// scanEntity walks every category/subcategory directory under a single
// user/agent/resources/global id, collecting non-hidden markdown files.
func (d *detector) scanEntity(entityRoot *cortexuri.URI) ([]memoryRef, error) {
	var refs []memoryRef
	var walk func(dir *cortexuri.URI) error
	walk = func(dir *cortexuri.URI) error {
		entries, err := d.fs.List(dir)
		if err != nil {
			return err
		}
		sc, err := loadSidecar(d.fs, dir)
		if err != nil {
			sc = sidecar{}
		}
		for _, e := range entries {
			childURI := dir.Child(e.Name)
			if e.IsDir {
				_ = walk(childURI)
				continue
			}
			if e.Name == storage.AbstractFile || e.Name == storage.OverviewFile {
				continue
			}
			content, err := d.fs.Read(childURI)
			if err != nil {
				continue
			}
			modTime, err := d.fs.ModTime(childURI)
			if err != nil {
				modTime = time.Time{}
			}
			refs = append(refs, memoryRef{
				uri:      childURI,
				dirURI:   dir,
				filename: e.Name,
				content:  content,
				modTime:  modTime,
				meta:     sc[e.Name],
			})
		}
		return nil
	}
	if err := walk(entityRoot); err != nil {
		return nil, err
	}
	return refs, nil
}

// detectIssues groups scanned memories into Issue records: one
// duplicate-group issue per distinct content hash shared by 2+ files,
// one low-quality issue per undersized file, one outdated issue per
// stale file.
func (d *detector) detectIssues(ctx context.Context, filters cortextypes.Filters) ([]cortextypes.Issue, error) {
	refs, err := d.scan(ctx, filters)
	if err != nil {
		return nil, err
	}

	var issues []cortextypes.Issue
	byHash := map[string][]string{}
	now := time.Now().UTC()

	for _, r := range refs {
		hash := cortextypes.ComputeHash(r.content)
		byHash[hash] = append(byHash[hash], r.uri.String())

		if runeLen(r.content) < d.cfg.MinQualityChars {
			issues = append(issues, cortextypes.Issue{
				Kind:             cortextypes.IssueLowQuality,
				Severity:         "medium",
				AffectedMemories: []string{r.uri.String()},
				Recommendation:   "delete undersized memory",
			})
		}

		if !r.modTime.IsZero() {
			age := now.Sub(r.modTime)
			staleDays := d.cfg.StalenessDays
			if staleDays <= 0 {
				staleDays = DefaultConfig().StalenessDays
			}
			if age > time.Duration(staleDays)*24*time.Hour {
				severity := "medium"
				critDays := d.cfg.CriticalStalenessDays
				if critDays > 0 && age > time.Duration(critDays)*24*time.Hour {
					severity = "critical"
				}
				issues = append(issues, cortextypes.Issue{
					Kind:             cortextypes.IssueOutdated,
					Severity:         severity,
					AffectedMemories: []string{r.uri.String()},
					Recommendation:   "archive or delete outdated memory",
				})
			}
		}
	}

	for _, uris := range byHash {
		if len(uris) > 1 {
			issues = append(issues, cortextypes.Issue{
				Kind:             cortextypes.IssueDuplicate,
				Severity:         "medium",
				AffectedMemories: uris,
				Recommendation:   "merge duplicate memories",
			})
		}
	}

	return issues, nil
}

func runeLen(s string) int {
	return len([]rune(s))
}

package optimizer

import "cortexmem/internal/cortextypes"

// filterIssuesByStrategy narrows issues to the ones a given strategy
// cares about (§4.5). Space reuses the Outdated issue kind: this
// implementation's simplified Issue taxonomy has no dedicated
// space-inefficiency detector, and archiving stale memories is the same
// action that would free space, so Space and Relevance share a signal.
func filterIssuesByStrategy(issues []cortextypes.Issue, strategy cortextypes.OptimizationStrategy) []cortextypes.Issue {
	var out []cortextypes.Issue
	for _, issue := range issues {
		switch strategy {
		case cortextypes.StrategyFull:
			out = append(out, issue)
		case cortextypes.StrategyIncremental:
			if issue.Severity == "high" || issue.Severity == "critical" {
				out = append(out, issue)
			}
		case cortextypes.StrategyBatch:
			if issue.Severity != "low" {
				out = append(out, issue)
			}
		case cortextypes.StrategyDeduplication:
			if issue.Kind == cortextypes.IssueDuplicate {
				out = append(out, issue)
			}
		case cortextypes.StrategyRelevance, cortextypes.StrategySpace:
			if issue.Kind == cortextypes.IssueOutdated {
				out = append(out, issue)
			}
		case cortextypes.StrategyQuality:
			if issue.Kind == cortextypes.IssueLowQuality {
				out = append(out, issue)
			}
		}
	}
	return out
}

// planActions maps each issue to the actions that would resolve it,
// then applies the action-count ceiling and, if conservativeMode is
// set, drops every Delete action (matching the original's behaviour —
// conservative mode never removes a memory outright, only archives it).
func planActions(issues []cortextypes.Issue, maxActions int, conservativeMode bool) []cortextypes.MemoryAction {
	var actions []cortextypes.MemoryAction
	for _, issue := range issues {
		actions = append(actions, actionsForIssue(issue)...)
		if maxActions > 0 && len(actions) >= maxActions {
			actions = actions[:maxActions]
			break
		}
	}
	if conservativeMode {
		actions = dropDeletes(actions)
	}
	return actions
}

func actionsForIssue(issue cortextypes.Issue) []cortextypes.MemoryAction {
	var actions []cortextypes.MemoryAction
	switch issue.Kind {
	case cortextypes.IssueDuplicate:
		if len(issue.AffectedMemories) > 1 {
			actions = append(actions, cortextypes.MemoryAction{Kind: "Merge", IDs: issue.AffectedMemories})
		}
	case cortextypes.IssueLowQuality:
		for _, id := range issue.AffectedMemories {
			actions = append(actions, cortextypes.MemoryAction{Kind: "Delete", ID: id})
		}
	case cortextypes.IssueOutdated:
		for _, id := range issue.AffectedMemories {
			if issue.Severity == "critical" {
				actions = append(actions, cortextypes.MemoryAction{Kind: "Delete", ID: id})
			} else {
				actions = append(actions, cortextypes.MemoryAction{Kind: "Archive", ID: id})
			}
		}
	case cortextypes.IssueLowRelevance:
		for _, id := range issue.AffectedMemories {
			actions = append(actions, cortextypes.MemoryAction{Kind: "Archive", ID: id})
		}
	}
	return actions
}

func dropDeletes(actions []cortextypes.MemoryAction) []cortextypes.MemoryAction {
	out := actions[:0]
	for _, a := range actions {
		if a.Kind == "Delete" {
			continue
		}
		out = append(out, a)
	}
	return out
}

func createPlan(issues []cortextypes.Issue, strategy cortextypes.OptimizationStrategy, cfg Config) cortextypes.OptimizationPlan {
	relevant := filterIssuesByStrategy(issues, strategy)
	actions := planActions(relevant, cfg.MaxActionsPerPlan, cfg.ConservativeMode)
	return cortextypes.OptimizationPlan{Issues: relevant, Actions: actions}
}

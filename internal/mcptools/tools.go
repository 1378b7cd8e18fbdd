package mcptools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"cortexmem/internal/cortextypes"
	"cortexmem/internal/cortexuri"
	"cortexmem/internal/optimizer"
	"cortexmem/internal/retrieval"
	"cortexmem/internal/session"
)

// ===== memory_search =====

type memorySearchInput struct {
	Query    string  `json:"query" jsonschema:"required,description=Natural-language query to search memory for"`
	Scope    string  `json:"scope,omitempty" jsonschema:"description=Optional cortex:// URI to restrict the search to (e.g. cortex://session/thread-1)"`
	TopK     int     `json:"top_k,omitempty" jsonschema:"description=Maximum results to return (default: engine configured value)"`
	MinScore float64 `json:"min_score,omitempty" jsonschema:"description=Minimum fused score a result must reach to be returned"`
}

type memorySearchResult struct {
	URI     string  `json:"uri" jsonschema:"Matched memory's cortex:// URI"`
	Score   float64 `json:"score" jsonschema:"Fused relevance score"`
	Snippet string  `json:"snippet" jsonschema:"Highlighted excerpt of the matched content"`
	Layer   string  `json:"layer" jsonschema:"Which summarisation layer matched: overview, abstract, or detail"`
}

type memorySearchOutput struct {
	Query   string                `json:"query" jsonschema:"Query that was searched"`
	Results []memorySearchResult  `json:"results" jsonschema:"Ranked matches"`
	Steps   []retrievalTraceEntry `json:"steps" jsonschema:"Retrieval trace, one entry per stage the engine ran"`
}

type retrievalTraceEntry struct {
	Stage      string `json:"stage" jsonschema:"Retrieval stage name"`
	Candidates int    `json:"candidates" jsonschema:"Candidates considered at this stage"`
	DurationMs int64  `json:"duration_ms" jsonschema:"Stage duration in milliseconds"`
}

func registerMemorySearch(server *mcp.Server, engine *retrieval.Engine) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "memory_search",
		Description: "Search the hierarchical memory store for content relevant to a query, optionally scoped to a cortex:// URI subtree.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args memorySearchInput) (*mcp.CallToolResult, memorySearchOutput, error) {
		if args.Query == "" {
			err := fmt.Errorf("query is required")
			return nil, memorySearchOutput{}, err
		}

		var scope *cortexuri.URI
		if args.Scope != "" {
			parsed, err := cortexuri.Parse(args.Scope)
			if err != nil {
				return nil, memorySearchOutput{}, fmt.Errorf("invalid scope: %w", err)
			}
			scope = parsed
		}

		result, err := engine.Search(ctx, args.Query, scope, retrieval.Options{
			TopK:     args.TopK,
			MinScore: args.MinScore,
		})
		if err != nil {
			return nil, memorySearchOutput{}, fmt.Errorf("search failed: %w", err)
		}

		output := memorySearchOutput{Query: result.Query}
		for _, r := range result.Results {
			output.Results = append(output.Results, memorySearchResult{
				URI: r.URI, Score: r.Score, Snippet: r.Snippet, Layer: string(r.Layer),
			})
		}
		for _, s := range result.Trace.Steps {
			output.Steps = append(output.Steps, retrievalTraceEntry{
				Stage: string(s.StepType), Candidates: s.CandidatesCount, DurationMs: s.DurationMs,
			})
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Found %d results for query: %s", len(output.Results), output.Query)},
			},
		}, output, nil
	})
}

// ===== session_create =====

type sessionCreateInput struct {
	ThreadID string `json:"thread_id" jsonschema:"required,description=Identifier for the session to create"`
}

type sessionCreateOutput struct {
	ThreadID string `json:"thread_id" jsonschema:"Session identifier"`
	Status   string `json:"status" jsonschema:"Session lifecycle status after the call"`
}

func registerSessionCreate(server *mcp.Server, sessions *session.Manager) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "session_create",
		Description: "Create a new conversation session, or return the existing one if thread_id is already in use.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args sessionCreateInput) (*mcp.CallToolResult, sessionCreateOutput, error) {
		if args.ThreadID == "" {
			return nil, sessionCreateOutput{}, fmt.Errorf("thread_id is required")
		}
		meta, err := sessions.CreateSession(args.ThreadID)
		if err != nil {
			return nil, sessionCreateOutput{}, fmt.Errorf("create session failed: %w", err)
		}
		output := sessionCreateOutput{ThreadID: meta.ThreadID, Status: string(meta.Status)}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Session %s is %s", output.ThreadID, output.Status)}},
		}, output, nil
	})
}

// ===== session_append_message =====

type sessionAppendMessageInput struct {
	ThreadID      string `json:"thread_id" jsonschema:"required,description=Session to append the message to"`
	Role          string `json:"role" jsonschema:"required,enum=user,enum=assistant,enum=system,description=Speaker role of the message"`
	Content       string `json:"content" jsonschema:"required,description=Message text"`
	ParticipantID string `json:"participant_id,omitempty" jsonschema:"description=Identifier of the participant who authored the message"`
}

type sessionAppendMessageOutput struct {
	URI string `json:"uri" jsonschema:"cortex:// URI of the persisted message blob"`
}

func registerSessionAppendMessage(server *mcp.Server, sessions *session.Manager) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "session_append_message",
		Description: "Append a message to a session's timeline, triggering the automation manager's real-time or batched indexing path.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args sessionAppendMessageInput) (*mcp.CallToolResult, sessionAppendMessageOutput, error) {
		if args.ThreadID == "" || args.Content == "" {
			return nil, sessionAppendMessageOutput{}, fmt.Errorf("thread_id and content are required")
		}
		role, err := parseRole(args.Role)
		if err != nil {
			return nil, sessionAppendMessageOutput{}, err
		}
		msg := session.NewMessage(role, args.Content)
		uri, err := sessions.AppendMessage(args.ThreadID, msg, args.ParticipantID)
		if err != nil {
			return nil, sessionAppendMessageOutput{}, fmt.Errorf("append message failed: %w", err)
		}
		output := sessionAppendMessageOutput{URI: uri}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Appended message at %s", uri)}},
		}, output, nil
	})
}

func parseRole(role string) (cortextypes.MessageRole, error) {
	switch cortextypes.MessageRole(role) {
	case cortextypes.RoleUser, cortextypes.RoleAssistant, cortextypes.RoleSystem:
		return cortextypes.MessageRole(role), nil
	default:
		return "", fmt.Errorf("invalid role %q: must be user, assistant, or system", role)
	}
}

// ===== session_close =====

type sessionCloseInput struct {
	ThreadID string `json:"thread_id" jsonschema:"required,description=Session to close"`
}

type sessionCloseOutput struct {
	ThreadID string `json:"thread_id" jsonschema:"Session identifier"`
	Closed   bool   `json:"closed" jsonschema:"Whether the session transitioned to closed"`
}

func registerSessionClose(server *mcp.Server, sessions *session.Manager) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "session_close",
		Description: "Close a session, triggering close-time extraction and indexing in the automation manager.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args sessionCloseInput) (*mcp.CallToolResult, sessionCloseOutput, error) {
		if args.ThreadID == "" {
			return nil, sessionCloseOutput{}, fmt.Errorf("thread_id is required")
		}
		if err := sessions.CloseSession(args.ThreadID); err != nil {
			return nil, sessionCloseOutput{}, fmt.Errorf("close session failed: %w", err)
		}
		output := sessionCloseOutput{ThreadID: args.ThreadID, Closed: true}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Session %s closed", args.ThreadID)}},
		}, output, nil
	})
}

// ===== memory_optimize =====

type memoryOptimizeInput struct {
	Strategy          string `json:"strategy" jsonschema:"required,enum=full,enum=incremental,enum=batch,enum=deduplication,enum=relevance,enum=quality,enum=space,description=Which detector/planner pair to run"`
	UserID            string `json:"user_id,omitempty" jsonschema:"description=Restrict the run to memories belonging to this user"`
	AgentID           string `json:"agent_id,omitempty" jsonschema:"description=Restrict the run to memories belonging to this agent"`
	RunID             string `json:"run_id,omitempty" jsonschema:"description=Restrict the run to memories belonging to this run"`
	DryRun            bool   `json:"dry_run,omitempty" jsonschema:"description=Compute the plan without executing any action"`
	ConservativeMode  bool   `json:"conservative_mode,omitempty" jsonschema:"description=Only take low-risk actions (no deletes)"`
	MaxActionsPerPlan int    `json:"max_actions_per_plan,omitempty" jsonschema:"description=Cap on actions in the generated plan (default: manager configured value)"`
	TimeoutMinutes    int    `json:"timeout_minutes,omitempty" jsonschema:"description=Abort the run after this many minutes"`
}

type memoryOptimizeOutput struct {
	JobID            string `json:"job_id" jsonschema:"Identifier assigned to this optimisation run"`
	Status           string `json:"status" jsonschema:"Terminal job status: completed or failed"`
	Progress         int    `json:"progress" jsonschema:"Percent complete, 0-100"`
	IssuesFound      int    `json:"issues_found" jsonschema:"Number of issues the detector surfaced"`
	ActionsPerformed int    `json:"actions_performed" jsonschema:"Number of actions the executor applied (or would apply, for a dry run)"`
	DurationMs       int64  `json:"duration_ms" jsonschema:"Execution phase duration in milliseconds"`
	Error            string `json:"error,omitempty" jsonschema:"Failure reason, set only when status is failed"`
}

func registerMemoryOptimize(server *mcp.Server, mgr *optimizer.Manager) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "memory_optimize",
		Description: "Run the memory optimiser: detect duplicate, low-quality, outdated, or low-relevance memories and merge, archive, update, or delete them.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args memoryOptimizeInput) (*mcp.CallToolResult, memoryOptimizeOutput, error) {
		if args.Strategy == "" {
			return nil, memoryOptimizeOutput{}, fmt.Errorf("strategy is required")
		}

		filters := cortextypes.NewFilters()
		if args.UserID != "" {
			filters = filters.ForUser(args.UserID)
		}
		if args.AgentID != "" {
			filters = filters.ForAgent(args.AgentID)
		}
		if args.RunID != "" {
			filters = filters.ForRun(args.RunID)
		}

		request := cortextypes.OptimizationRequest{
			Strategy:          cortextypes.OptimizationStrategy(args.Strategy),
			Filters:           filters,
			DryRun:            args.DryRun,
			ConservativeMode:  args.ConservativeMode,
			MaxActionsPerPlan: args.MaxActionsPerPlan,
			TimeoutMinutes:    args.TimeoutMinutes,
		}

		result, err := mgr.Optimize(ctx, request)
		if err != nil {
			output := memoryOptimizeOutput{JobID: result.JobID, Status: string(result.Status), Error: result.Error}
			return nil, output, fmt.Errorf("optimisation failed: %w", err)
		}

		output := memoryOptimizeOutput{
			JobID:       result.JobID,
			Status:      string(result.Status),
			Progress:    result.Progress,
			IssuesFound: len(result.IssuesFound),
		}
		if result.Metrics != nil {
			output.ActionsPerformed = result.Metrics.ActionsPerformed
			output.DurationMs = result.Metrics.DurationMS
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{
				Text: fmt.Sprintf("Optimisation %s: %d issues found, %d actions performed", output.JobID, output.IssuesFound, output.ActionsPerformed),
			}},
		}, output, nil
	})
}

package engine

import (
	"context"
	"fmt"

	"github.com/Thaura644/llm-conduit/internal/events"
	"github.com/Thaura644/llm-conduit/internal/logging"
	"github.com/Thaura644/llm-conduit/internal/store"
)

// executeProposalActions runs a proposal's requested actions in list
// order. Sensitive tools are re-checked against the permission gate
// immediately before execution; an ungranted action emits
// permission.requested and is skipped, it is not queued for retry. A
// failing action records its error in the action.executed result and
// never aborts the rest of the batch.
func (e *Engine) executeProposalActions(ctx context.Context, proposalID string) error {
	proposal := e.findProposal(proposalID)
	if proposal == nil {
		logging.EngineError("proposal %s not found", proposalID)
		return fmt.Errorf("proposal %s not found", proposalID)
	}

	for _, action := range proposal.RequestedActions {
		tool := e.tools.Get(action.Tool)
		if tool == nil {
			if err := e.logEvent(events.System(), &events.ActionExecuted{
				Tool:   action.Tool,
				Args:   action.Args,
				Result: map[string]any{"error": fmt.Sprintf("unknown tool: %s", action.Tool)},
			}); err != nil {
				return err
			}
			continue
		}

		if tool.Sensitive {
			key := tool.ResourceKey(action.Args)
			status, err := e.gate.Check(key)
			if err != nil {
				return err
			}
			if status != store.StatusGranted {
				logging.Permission("action %s blocked on %s (%s)", action.Tool, key, status)
				if err := e.logEvent(events.System(), &events.PermissionRequested{
					Tool: action.Tool,
					Args: action.Args,
				}); err != nil {
					return err
				}
				continue
			}
		}

		result, err := tool.Execute(ctx, action.Args)
		if err != nil {
			logging.ToolsError("%s failed: %v", action.Tool, err)
			failure := map[string]any{"error": err.Error()}
			if partial, ok := result.(map[string]any); ok {
				for k, v := range partial {
					failure[k] = v
				}
			}
			result = failure
		}

		if err := e.logEvent(events.System(), &events.ActionExecuted{
			Tool:   action.Tool,
			Args:   action.Args,
			Result: result,
		}); err != nil {
			return err
		}
	}
	return nil
}

package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/riverrun-ai/agentrt/internal/permission"
	"github.com/riverrun-ai/agentrt/pkg/message"
)

// dispatch implements §4.3 steps 7-8: resolve every classified tool
// request to a ToolResponse content item, in the original request order.
// It returns (responses, interrupted); interrupted is true if ctx was
// cancelled partway through, in which case every still-unresolved entry
// carries a synthetic Interrupted response.
func (c *Core) dispatch(ctx context.Context, out chan<- *ResponseChunk, entries []reqEntry) ([]message.Content, bool) {
	results := make(map[string]message.Content, len(entries))

	for _, e := range entries {
		if e.Category == categoryParseError {
			results[e.ID] = message.ToolResponse{ID: e.ID, Result: message.ToolErr(
				"malformed tool call: the arguments did not parse; fix them or choose a different tool, do not retry unchanged",
			)}
		}
	}

	if c.dispatchFrontend(ctx, out, entries, results) {
		return c.orderResponses(entries, results), true
	}
	if c.dispatchPlatform(ctx, entries, results) {
		return c.orderResponses(entries, results), true
	}
	if c.dispatchExtensions(ctx, out, entries, results) {
		return c.orderResponses(entries, results), true
	}
	return c.orderResponses(entries, results), false
}

func (c *Core) orderResponses(entries []reqEntry, results map[string]message.Content) []message.Content {
	out := make([]message.Content, 0, len(entries))
	for _, e := range entries {
		if content, ok := results[e.ID]; ok {
			out = append(out, content)
		}
	}
	return out
}

func fillInterrupted(entries []reqEntry, results map[string]message.Content) {
	for _, e := range entries {
		if _, ok := results[e.ID]; ok {
			continue
		}
		results[e.ID] = message.ToolResponse{ID: e.ID, Result: message.ToolErr(
			"Interrupted: cancelled before this tool call completed",
		)}
	}
}

// dispatchFrontend yields a ChunkFrontendToolRequest for each frontend tool
// call and blocks on the matching result, one at a time and in request
// order, per §4.3 step 7's "one response per request id" rule.
func (c *Core) dispatchFrontend(ctx context.Context, out chan<- *ResponseChunk, entries []reqEntry, results map[string]message.Content) bool {
	for _, e := range entries {
		if e.Category != categoryFrontend {
			continue
		}

		select {
		case <-ctx.Done():
			fillInterrupted(entries, results)
			return true
		default:
		}

		ch := c.frontendResults.Register(e.ID)
		out <- &ResponseChunk{
			Kind:            ChunkFrontendToolRequest,
			FrontendRequest: &message.FrontendToolRequest{ID: e.ID, Call: e.Call},
		}

		result, err := c.frontendResults.Wait(ctx, e.ID, ch)
		if err != nil {
			fillInterrupted(entries, results)
			return true
		}
		results[e.ID] = message.ToolResponse{ID: e.ID, Result: result}
	}
	return false
}

// dispatchPlatform handles read_resource/list_resources (forwarded to
// extension.Manager, which already serves them) and
// search_available_extensions/manage_extensions (handled locally).
func (c *Core) dispatchPlatform(ctx context.Context, entries []reqEntry, results map[string]message.Content) bool {
	for _, e := range entries {
		if e.Category != categoryPlatform {
			continue
		}

		select {
		case <-ctx.Done():
			fillInterrupted(entries, results)
			return true
		default:
		}

		results[e.ID] = message.ToolResponse{ID: e.ID, Result: c.callPlatformTool(ctx, e.Call)}
	}
	return false
}

func (c *Core) callPlatformTool(ctx context.Context, call message.ToolCall) message.ToolResponseResult {
	switch call.Name {
	case ToolSearchAvailableExtensions:
		return c.handleSearchAvailableExtensions(call.Arguments)
	case ToolManageExtensions:
		return c.handleManageExtensions(ctx, call.Arguments)
	default:
		return c.callExtensionTool(ctx, call)
	}
}

func (c *Core) callExtensionTool(ctx context.Context, call message.ToolCall) message.ToolResponseResult {
	if c.extensions == nil {
		return message.ToolErr(fmt.Sprintf("no extension manager configured for tool %q", call.Name))
	}
	result, err := c.extensions.CallTool(ctx, call.Name, call.Arguments)
	if err != nil {
		return message.ToolErr(err.Error())
	}
	return message.ToolOK(extensionContentToMessageContent(result.Content)...)
}

// dispatchExtensions gates every extension call through the permission
// store (and caller confirmation when no decision is on file), then runs
// the allowed read-only calls in parallel and everything else
// sequentially, per §4.3 step 7's dispatch-ordering rule.
func (c *Core) dispatchExtensions(ctx context.Context, out chan<- *ResponseChunk, entries []reqEntry, results map[string]message.Content) bool {
	var extEntries []reqEntry
	for _, e := range entries {
		if e.Category == categoryExtension {
			extEntries = append(extEntries, e)
		}
	}
	if len(extEntries) == 0 {
		return false
	}

	select {
	case <-ctx.Done():
		fillInterrupted(entries, results)
		return true
	default:
	}

	var gated []reqEntry
	for _, e := range extEntries {
		allowed, declineReason, err := c.gate(ctx, out, e)
		if err != nil {
			fillInterrupted(entries, results)
			return true
		}
		if !allowed {
			results[e.ID] = message.ToolResponse{ID: e.ID, Result: message.ToolErr(declineReason)}
			continue
		}
		gated = append(gated, e)
	}

	var readOnly, sequential []reqEntry
	for _, e := range gated {
		if c.isReadOnly(e.Call.Name) {
			readOnly = append(readOnly, e)
		} else {
			sequential = append(sequential, e)
		}
	}

	if len(readOnly) > 0 {
		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, e := range readOnly {
			wg.Add(1)
			go func(e reqEntry) {
				defer wg.Done()
				result := c.callExtensionTool(ctx, e.Call)
				mu.Lock()
				results[e.ID] = message.ToolResponse{ID: e.ID, Result: result}
				mu.Unlock()
			}(e)
		}
		wg.Wait()
	}

	for _, e := range sequential {
		select {
		case <-ctx.Done():
			fillInterrupted(entries, results)
			return true
		default:
		}
		result := c.callExtensionTool(ctx, e.Call)
		results[e.ID] = message.ToolResponse{ID: e.ID, Result: result}
	}

	return false
}

// gate consults the permission store for e's (tool, arguments) pair. If no
// decision is on file it emits a ChunkToolConfirmationRequest and blocks on
// the caller's answer, persisting it when the caller opts into "always
// allow" per §4.3 step 7.
func (c *Core) gate(ctx context.Context, out chan<- *ResponseChunk, e reqEntry) (allowed bool, declineReason string, err error) {
	if c.permissions == nil {
		return true, "", nil
	}

	hash, hashErr := permission.HashArguments(e.Call.Arguments)
	if hashErr != nil {
		return false, fmt.Sprintf("could not evaluate permission for %s: %v", e.Call.Name, hashErr), nil
	}

	if record, ok := c.permissions.Lookup(e.Call.Name, hash); ok {
		if record.Allowed {
			return true, "", nil
		}
		return false, declinedMessage(e.Call.Name), nil
	}

	ch := c.confirmations.Register(e.ID)
	out <- &ResponseChunk{
		Kind:                ChunkToolConfirmationRequest,
		ConfirmationRequest: &message.ToolConfirmationRequest{ID: e.ID, ToolName: e.Call.Name, Arguments: e.Call.Arguments},
	}

	decision, waitErr := c.confirmations.Wait(ctx, e.ID, ch)
	if waitErr != nil {
		return false, "", waitErr
	}

	if decision.AlwaysAllow {
		_ = c.permissions.Grant(e.Call.Name, hash, decision.Allowed, 0)
	}
	if !decision.Allowed {
		return false, declinedMessage(e.Call.Name), nil
	}
	return true, "", nil
}

func declinedMessage(name string) string {
	return fmt.Sprintf("the call to %s was declined; do not retry the same call, explain the limitation or stop", name)
}

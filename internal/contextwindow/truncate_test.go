package contextwindow

import (
	"testing"

	"github.com/riverrun-ai/agentrt/pkg/message"
)

func textMsg(role message.Role, text string) *message.Message {
	return &message.Message{Role: role, Content: []message.Content{message.Text{Text: text}}}
}

func requestMsg(id string) *message.Message {
	return message.NewAssistantMessage().WithToolRequest(id, message.OK(message.ToolCall{Name: "t"}))
}

func responseMsg(id string) *message.Message {
	return message.NewUserMessage().WithToolResponse(id, message.ToolOK(message.Text{Text: "ok"}))
}

func TestOldestFirstDropsOldest(t *testing.T) {
	messages := []*message.Message{
		textMsg(message.RoleUser, "one"),
		textMsg(message.RoleAssistant, "two"),
		textMsg(message.RoleUser, "three"),
	}
	counts := []int{10, 10, 10}

	out, outCounts, err := OldestFirst(messages, counts, 20)
	if err != nil {
		t.Fatalf("OldestFirst: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 messages kept, got %d", len(out))
	}
	if out[0].ConcatText() != "two" {
		t.Errorf("expected oldest message dropped first, got head %q", out[0].ConcatText())
	}
	if sumInts(outCounts) > 20 {
		t.Errorf("expected result within budget")
	}
}

func TestOldestFirstPreservesPairingWhenDroppingRequest(t *testing.T) {
	// user(text) -> assistant(tool_req A) -> user(tool_resp A) -> user(text)
	messages := []*message.Message{
		textMsg(message.RoleUser, "setup"),
		requestMsg("A"),
		responseMsg("A"),
		textMsg(message.RoleUser, "final"),
	}
	counts := []int{50, 10, 10, 5}

	// Budget forces dropping "setup" and the request, which must cascade
	// into dropping the response too.
	out, _, err := OldestFirst(messages, counts, 15)
	if err != nil {
		t.Fatalf("OldestFirst: %v", err)
	}

	for _, m := range out {
		if m.HasToolRequest() || m.HasToolResponse() {
			t.Errorf("expected no orphaned tool request/response to survive, found one in %+v", m)
		}
	}
	if len(out) != 1 || out[0].ConcatText() != "final" {
		t.Errorf("expected only the final text message to remain, got %d messages", len(out))
	}
}

func TestOldestFirstCascadesOrphanedResponse(t *testing.T) {
	// Same shape, but budget only allows dropping the request message
	// itself directly (simulating the response being far from the head).
	messages := []*message.Message{
		requestMsg("A"),
		responseMsg("A"),
		textMsg(message.RoleUser, "final"),
	}
	counts := []int{5, 5, 5}

	out, _, err := OldestFirst(messages, counts, 8)
	if err != nil {
		t.Fatalf("OldestFirst: %v", err)
	}
	for _, m := range out {
		if m.HasToolResponse() {
			t.Error("expected orphaned tool response to be cascaded away")
		}
	}
}

func TestOldestFirstFailsWhenHistoryExhausted(t *testing.T) {
	messages := []*message.Message{textMsg(message.RoleUser, "only message")}
	counts := []int{1000}

	_, _, err := OldestFirst(messages, counts, 10)
	if err == nil {
		t.Fatal("expected ContextLimit error when truncation empties the history")
	}
	cwErr, ok := err.(*Error)
	if !ok || cwErr.Kind != ContextLimit {
		t.Errorf("expected ContextLimit error, got %v", err)
	}
}

func TestOldestFirstLeavesPendingTrailingRequestAlone(t *testing.T) {
	// A trailing tool request with no response yet must never be treated
	// as orphaned just because no response exists.
	messages := []*message.Message{
		textMsg(message.RoleUser, "setup"),
		requestMsg("B"),
	}
	counts := []int{100, 5}

	out, _, err := OldestFirst(messages, counts, 10)
	if err != nil {
		t.Fatalf("OldestFirst: %v", err)
	}
	if len(out) != 1 || !out[0].HasToolRequest() {
		t.Errorf("expected the pending trailing request to survive, got %+v", out)
	}
}

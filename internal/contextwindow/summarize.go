package contextwindow

import (
	"context"
	"fmt"
	"strings"

	"github.com/riverrun-ai/agentrt/pkg/message"
	"github.com/riverrun-ai/agentrt/pkg/provider"
)

// summarizerPrompt is the dedicated system prompt used for every
// condensation call; it is deliberately distinct from the caller's own
// system prompt so the summarizer model is not confused about its task.
const summarizerPrompt = `You are condensing a conversation history into a concise running summary.
You will be given the current running summary (if any) followed by a chunk of conversation.
Produce an updated running summary that preserves every fact, decision, and open thread a
continuation of the conversation would need, in prose, without restating the instructions.`

// baseChunkRatio is the fraction of a context window a single
// summarization chunk targets by default: one third.
const baseChunkRatio = 0.33

// Summarizer condenses message history through a Provider, for callers
// that choose the summarization path over truncation. Per §4.4 of the
// runtime specification this is invoked explicitly by the caller; the
// reply loop never calls it on its own.
type Summarizer struct {
	provider provider.Provider
	manager  *Manager
}

// NewSummarizer builds a Summarizer that condenses chunks through p, sized
// using manager's token counter.
func NewSummarizer(p provider.Provider, manager *Manager) *Summarizer {
	return &Summarizer{provider: p, manager: manager}
}

// Summarize partitions messages into ~⅓-context chunks, condenses each
// against the running summary in turn, and returns the final summary text
// with any trailing, still-unanswered tool-request/response pair
// reintegrated into the message list the caller should keep going
// forward.
//
// previousSummary may be empty for a first run. contextLimit is the
// model's full context window, used to size chunks.
func (s *Summarizer) Summarize(ctx context.Context, previousSummary string, messages []*message.Message, contextLimit int) (summary string, trailing []*message.Message, err error) {
	body, trailing := splitTrailingPair(messages)

	if len(body) == 0 {
		if previousSummary != "" {
			return previousSummary, trailing, nil
		}
		return "No prior history.", trailing, nil
	}

	maxChunkTokens := int(float64(contextLimit) * baseChunkRatio)
	if maxChunkTokens <= 0 {
		maxChunkTokens = 20000
	}

	chunks := s.chunkByMaxTokens(body, maxChunkTokens)

	running := previousSummary
	for i, chunk := range chunks {
		next, err := s.condense(ctx, running, chunk)
		if err != nil {
			return "", trailing, &Error{Kind: SummarizationFailed, Cause: fmt.Errorf("chunk %d: %w", i, err)}
		}
		running = next
	}

	return running, trailing, nil
}

// chunkByMaxTokens splits messages into chunks whose summed token cost
// never exceeds maxTokens, except that a single message larger than
// maxTokens always gets its own chunk.
func (s *Summarizer) chunkByMaxTokens(messages []*message.Message, maxTokens int) [][]*message.Message {
	var chunks [][]*message.Message
	var current []*message.Message
	currentTokens := 0

	for _, m := range messages {
		tokens := s.manager.Counter().CountMessageTokens(m)

		if tokens > maxTokens {
			if len(current) > 0 {
				chunks = append(chunks, current)
				current = nil
				currentTokens = 0
			}
			chunks = append(chunks, []*message.Message{m})
			continue
		}

		if currentTokens+tokens > maxTokens && len(current) > 0 {
			chunks = append(chunks, current)
			current = nil
			currentTokens = 0
		}

		current = append(current, m)
		currentTokens += tokens
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

func (s *Summarizer) condense(ctx context.Context, runningSummary string, chunk []*message.Message) (string, error) {
	var body strings.Builder
	if runningSummary != "" {
		body.WriteString("Running summary so far:\n")
		body.WriteString(runningSummary)
		body.WriteString("\n\nNew conversation chunk to fold in:\n")
	}
	for _, m := range chunk {
		body.WriteString(fmt.Sprintf("[%s] %s\n", m.Role, renderForSummary(m)))
	}

	req := provider.CompletionRequest{
		SystemPrompt: summarizerPrompt,
		Messages:     []*message.Message{message.NewUserMessage().WithText(body.String())},
	}

	resp, _, err := s.provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.ConcatText(), nil
}

func renderForSummary(m *message.Message) string {
	var parts []string
	for _, c := range m.Content {
		switch v := c.(type) {
		case message.Text:
			parts = append(parts, v.Text)
		case message.ToolRequest:
			if v.Result.Call != nil {
				parts = append(parts, fmt.Sprintf("[called %s]", v.Result.Call.Name))
			}
		case message.ToolResponse:
			parts = append(parts, "[tool response]")
		}
	}
	return strings.Join(parts, " ")
}

// splitTrailingPair peels off a trailing, still-unanswered tool-request or
// a trailing tool-request/tool-response pair from the end of messages, so
// summarization never condenses a pair the agent loop still needs intact
// to dispatch or interpret. It returns the body to summarize and the
// trailing messages to reintegrate verbatim after the running summary.
func splitTrailingPair(messages []*message.Message) (body, trailing []*message.Message) {
	if len(messages) == 0 {
		return nil, nil
	}

	last := messages[len(messages)-1]
	if last.HasToolResponse() {
		// The message before it, if it holds the matching request, comes
		// along for the ride.
		if len(messages) >= 2 {
			prev := messages[len(messages)-2]
			if prev.HasToolRequest() && sharesAnyID(prev.ToolRequestIDs(), last.ToolResponseIDs()) {
				return messages[:len(messages)-2], messages[len(messages)-2:]
			}
		}
		return messages[:len(messages)-1], messages[len(messages)-1:]
	}

	if last.HasToolRequest() {
		return messages[:len(messages)-1], messages[len(messages)-1:]
	}

	return messages, nil
}

func sharesAnyID(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		if set[id] {
			return true
		}
	}
	return false
}

package contextwindow

import (
	"fmt"

	"github.com/riverrun-ai/agentrt/pkg/message"
)

// OldestFirst drops messages from the front of the list until the sum of
// counts is at or under budget, preserving the tool-request/tool-response
// pairing invariant: removing one side of an originally-paired request and
// response always removes the other side too, atomically. Trailing
// requests that never had a response (a pending call at the end of
// history) are left alone by this rule — only pairs that existed in the
// original input are protected.
//
// The reconciliation runs to a fixpoint after every pop: a single removal
// can orphan a pair whose mate is nowhere near the head, so each pop is
// followed by repeated sweeps of the remaining list until no further
// orphan is found, mirroring the "pop both ends of that pair atomically"
// and "if the new head is a tool_response with no surviving request, pop
// it" rules in §4.4 of the runtime specification.
func OldestFirst(messages []*message.Message, counts []int, budget int) ([]*message.Message, []int, error) {
	if len(messages) != len(counts) {
		return nil, nil, fmt.Errorf("contextwindow: messages and counts length mismatch (%d vs %d)", len(messages), len(counts))
	}

	pairedRequestIDs := requestIDsWithResponse(messages)

	msgs := append([]*message.Message(nil), messages...)
	cnts := append([]int(nil), counts...)
	total := sumInts(cnts)

	for total > budget && len(msgs) > 0 {
		total -= cnts[0]
		msgs = msgs[1:]
		cnts = cnts[1:]

		msgs, cnts = reconcilePairs(msgs, cnts, pairedRequestIDs, &total)
	}

	if len(msgs) == 0 {
		return nil, nil, &Error{Kind: ContextLimit, Cause: fmt.Errorf("truncation exhausted history without reaching budget %d", budget)}
	}
	return msgs, cnts, nil
}

// requestIDsWithResponse returns the set of ToolRequest ids that have a
// matching ToolResponse somewhere in messages, computed once against the
// original, pre-truncation history.
func requestIDsWithResponse(messages []*message.Message) map[string]bool {
	responseIDs := make(map[string]bool)
	for _, m := range messages {
		for _, id := range m.ToolResponseIDs() {
			responseIDs[id] = true
		}
	}

	requestIDs := make(map[string]bool)
	for _, m := range messages {
		for _, id := range m.ToolRequestIDs() {
			if responseIDs[id] {
				requestIDs[id] = true
			}
		}
	}
	return requestIDs
}

// reconcilePairs removes any message left holding one end of an
// originally-paired tool-request/tool-response after the other end has
// been dropped, sweeping to a fixpoint since one removal can cascade into
// another.
func reconcilePairs(msgs []*message.Message, cnts []int, pairedRequestIDs map[string]bool, total *int) ([]*message.Message, []int) {
	for {
		presentRequests := make(map[string]bool)
		presentResponses := make(map[string]bool)
		for _, m := range msgs {
			for _, id := range m.ToolRequestIDs() {
				presentRequests[id] = true
			}
			for _, id := range m.ToolResponseIDs() {
				presentResponses[id] = true
			}
		}

		removeIdx := -1
		for i, m := range msgs {
			if messageOrphaned(m, pairedRequestIDs, presentRequests, presentResponses) {
				removeIdx = i
				break
			}
		}
		if removeIdx == -1 {
			return msgs, cnts
		}

		*total -= cnts[removeIdx]
		msgs = append(msgs[:removeIdx], msgs[removeIdx+1:]...)
		cnts = append(cnts[:removeIdx], cnts[removeIdx+1:]...)
	}
}

// messageOrphaned reports whether m holds a tool-response whose request is
// gone, or a tool-request that was originally paired with a response that
// is now gone.
func messageOrphaned(m *message.Message, pairedRequestIDs, presentRequests, presentResponses map[string]bool) bool {
	for _, id := range m.ToolResponseIDs() {
		if !presentRequests[id] {
			return true
		}
	}
	for _, id := range m.ToolRequestIDs() {
		if pairedRequestIDs[id] && !presentResponses[id] {
			return true
		}
	}
	return false
}

func sumInts(xs []int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}

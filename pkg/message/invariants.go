package message

// ToolRequestIDSet collects every ToolRequest id appearing anywhere across a
// message history.
func ToolRequestIDSet(history []*Message) map[string]struct{} {
	set := make(map[string]struct{})
	for _, m := range history {
		for _, id := range m.ToolRequestIDs() {
			set[id] = struct{}{}
		}
	}
	return set
}

// ToolResponseIDSet collects every ToolResponse id appearing anywhere across
// a message history.
func ToolResponseIDSet(history []*Message) map[string]struct{} {
	set := make(map[string]struct{})
	for _, m := range history {
		for _, id := range m.ToolResponseIDs() {
			set[id] = struct{}{}
		}
	}
	return set
}

// EndsValid reports whether history satisfies the last-message invariant
// from §3: the last message is either a pure user text message or a
// complete tool-response aggregate (a user message whose every ToolResponse
// id has a matching ToolRequest earlier in history).
func EndsValid(history []*Message) bool {
	if len(history) == 0 {
		return false
	}
	last := history[len(history)-1]
	if last.Role != RoleUser {
		return false
	}
	if !last.HasToolResponse() {
		return true
	}
	requests := ToolRequestIDSet(history[:len(history)-1])
	for _, id := range last.ToolResponseIDs() {
		if _, ok := requests[id]; !ok {
			return false
		}
	}
	return true
}

// NoOrphanResponses reports whether every ToolResponse id in history has a
// matching ToolRequest id earlier in the same history (invariant 1 in §8).
func NoOrphanResponses(history []*Message) bool {
	seenRequests := make(map[string]struct{})
	for _, m := range history {
		for _, id := range m.ToolResponseIDs() {
			if _, ok := seenRequests[id]; !ok {
				return false
			}
		}
		for _, id := range m.ToolRequestIDs() {
			seenRequests[id] = struct{}{}
		}
	}
	return true
}

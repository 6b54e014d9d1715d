package agentcore

// DefaultDuplicateThreshold is the number of prior identical assistant
// messages that marks the agent as stuck.
const DefaultDuplicateThreshold = 2

// IsStuck reports whether the conversation shows a stuck loop: the latest
// message's content repeated verbatim by at least threshold earlier
// assistant messages. An empty latest content never counts as stuck.
func IsStuck(messages []Message, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultDuplicateThreshold
	}
	if len(messages) < 2 {
		return false
	}
	last := messages[len(messages)-1]
	if last.Content == "" {
		return false
	}
	duplicates := 0
	for i := len(messages) - 2; i >= 0; i-- {
		msg := messages[i]
		if msg.Role == RoleAssistant && msg.Content == last.Content {
			duplicates++
			if duplicates >= threshold {
				return true
			}
		}
	}
	return false
}

package convert

import "claude-bridge/internal/canonical"

// BuildToolUseMap maps every tool_use id in the conversation to its function
// name. A repeated id keeps the last name seen.
func BuildToolUseMap(msgs []canonical.Message) map[string]string {
	out := map[string]string{}
	for _, m := range msgs {
		if m.Content.IsText() {
			continue
		}
		for _, blk := range m.Content.Blocks {
			if blk.Type == canonical.BlockToolUse {
				out[blk.ID] = blk.Name
			}
		}
	}
	return out
}

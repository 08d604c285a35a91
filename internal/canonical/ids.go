package canonical

import "github.com/google/uuid"

const (
	PrefixMessage = "msg_"
	PrefixToolUse = "toolu_"
)

// IDFunc returns an identifier starting with prefix. Ids only need to be unique
// within one response; they carry no security weight.
type IDFunc func(prefix string) string

func NewID(prefix string) string {
	return prefix + uuid.NewString()
}

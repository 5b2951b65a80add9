package chat

import (
	"sort"
	"strings"
)

// keySeparator joins the two participant ids of a channel key.
const keySeparator = "-"

// A Conversation is the unordered pair of two users.
type Conversation struct {
	A, B string
}

// Key returns the channel key of the conversation.
func (c Conversation) Key() string {
	return ChannelKey(c.A, c.B)
}

// Other returns the participant that is not userID.
func (c Conversation) Other(userID string) string {
	if c.A == userID {
		return c.B
	}
	return c.A
}

// Includes reports whether userID takes part in the conversation.
func (c Conversation) Includes(userID string) bool {
	return c.A == userID || c.B == userID
}

// ChannelKey returns the canonical key for the pair (a, b). Both participants
// compute the same key regardless of argument order.
func ChannelKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, keySeparator)
}

// orderedPair returns a and b sorted, the storage order of a friendship.
func orderedPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

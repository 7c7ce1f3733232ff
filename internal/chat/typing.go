// internal/chat/typing.go
// Ephemeral typing presence for one active conversation. Purely
// in-memory; the set resets whenever the window switches away.

package chat

import (
	"fmt"
	"sort"
)

// TypingSet tracks which other participants are currently composing.
// Not safe for concurrent use; the window controller serializes access.
type TypingSet struct {
	selfID  int64
	members map[int64]string // userID -> display name
}

// NewTypingSet creates a typing set that ignores events from selfID
func NewTypingSet(selfID int64) *TypingSet {
	return &TypingSet{
		selfID:  selfID,
		members: make(map[int64]string),
	}
}

// Apply folds one typing event into the set. Self events are dropped;
// only other participants ever populate the indicator.
func (t *TypingSet) Apply(userID int64, name string, isTyping bool) {
	if userID == t.selfID {
		return
	}
	if isTyping {
		t.members[userID] = name
	} else {
		delete(t.members, userID)
	}
}

// Reset empties the set. Called on every window deactivation.
func (t *TypingSet) Reset() {
	t.members = make(map[int64]string)
}

// Len returns the number of participants currently typing
func (t *TypingSet) Len() int {
	return len(t.members)
}

// Names returns the typing participants' names in stable order
func (t *TypingSet) Names() []string {
	names := make([]string, 0, len(t.members))
	for _, name := range t.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Indicator derives the indicator text for the current set
func (t *TypingSet) Indicator() string {
	return TypingIndicator(t.Names())
}

// TypingIndicator is the pure derivation from typing names to display
// text. Never enumerates more than two names; larger sets collapse to a
// generic line.
func TypingIndicator(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s is typing…", names[0])
	case 2:
		return fmt.Sprintf("%s and %s are typing…", names[0], names[1])
	default:
		return "Several people are typing…"
	}
}

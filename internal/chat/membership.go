// internal/chat/membership.go
// Client-side membership guards. These fail fast before a round trip;
// the backend remains the authority on membership changes.

package chat

import "errors"

var (
	ErrLastAdmin           = errors.New("cannot leave: you are the only admin, assign another admin first")
	ErrMembershipImmutable = errors.New("participants of a direct conversation cannot be changed")
	ErrNotParticipant      = errors.New("not a participant in this conversation")
)

// AdminCount returns the number of admins among the participants
func AdminCount(c *Conversation) int {
	count := 0
	for _, p := range c.Participants {
		if p.IsAdmin {
			count++
		}
	}
	return count
}

// FindParticipant returns the participant record for a user, or nil
func FindParticipant(c *Conversation, userID int64) *Participant {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// CanLeave reports whether userID may leave the conversation. The only
// blocked case is the sole admin of a GROUP or PROJECT conversation:
// leaving would strand the room without an admin. DIRECT conversations
// always pass; their leave semantics are the backend's call.
func CanLeave(c *Conversation, userID int64) bool {
	if c.Kind == KindDirect {
		return true
	}

	p := FindParticipant(c, userID)
	if p == nil || !p.IsAdmin {
		return true
	}

	return AdminCount(c) > 1
}

// CheckLeave is CanLeave with the blocking reason attached
func CheckLeave(c *Conversation, userID int64) error {
	if FindParticipant(c, userID) == nil {
		return ErrNotParticipant
	}
	if !CanLeave(c, userID) {
		return ErrLastAdmin
	}
	return nil
}

// CheckAddParticipant guards participant addition client-side
func CheckAddParticipant(c *Conversation, actorID int64) error {
	if !c.MembershipMutable() {
		return ErrMembershipImmutable
	}
	if FindParticipant(c, actorID) == nil {
		return ErrNotParticipant
	}
	return nil
}

// CheckRemoveParticipant guards participant removal client-side.
// Removing the last admin is blocked for the same reason leaving is.
func CheckRemoveParticipant(c *Conversation, actorID, targetID int64) error {
	if !c.MembershipMutable() {
		return ErrMembershipImmutable
	}
	if FindParticipant(c, actorID) == nil {
		return ErrNotParticipant
	}

	target := FindParticipant(c, targetID)
	if target == nil {
		return ErrNotParticipant
	}
	if target.IsAdmin && AdminCount(c) == 1 {
		return ErrLastAdmin
	}
	return nil
}

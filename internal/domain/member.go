package domain

import "strings"

// MemberCreated opens a member stream.
type MemberCreated struct {
	MemberID string `json:"memberId"`
	UserID   string `json:"userId"`
	Role     string `json:"role"`
}

// MemberRoleChanged records a new member role.
type MemberRoleChanged struct {
	MemberID string `json:"memberId"`
	Role     string `json:"role"`
}

func (MemberCreated) EventType() EventType     { return EventMemberCreated }
func (MemberRoleChanged) EventType() EventType { return EventMemberRoleChanged }

func (MemberCreated) isPayload()     {}
func (MemberRoleChanged) isPayload() {}

// Member is the folded state of one member stream.
type Member struct {
	ID     string
	Role   string
	UserID string
}

// Exists reports whether a creation event has been folded.
func (m Member) Exists() bool {
	return m.ID != ""
}

// FoldMember rebuilds a member from its stream.
func FoldMember(events []RecordedEvent) (Member, error) {
	return Fold(Member{}, events, applyMember)
}

func applyMember(m Member, payload Payload) (Member, error) {
	if created, ok := payload.(MemberCreated); ok {
		if m.Exists() {
			return m, ErrAlreadyExists
		}
		return Member{ID: created.MemberID, Role: created.Role, UserID: created.UserID}, nil
	}
	if !m.Exists() {
		return m, ErrNotFound
	}

	switch ev := payload.(type) {
	case MemberRoleChanged:
		m.Role = ev.Role
	default:
		return m, unknownEvent(payload)
	}
	return m, nil
}

// NewMemberCreated validates a member creation request.
func NewMemberCreated(memberID, userID, role string) (MemberCreated, error) {
	memberID = strings.TrimSpace(memberID)
	userID = strings.TrimSpace(userID)
	role = strings.TrimSpace(role)
	if memberID == "" || userID == "" {
		return MemberCreated{}, invalidPayload(ErrInvalidID)
	}
	if role == "" {
		return MemberCreated{}, invalidPayload(ErrInvalidRole)
	}
	return MemberCreated{MemberID: memberID, UserID: userID, Role: role}, nil
}

// ChangeRole decides the events for a new member role.
func (m Member) ChangeRole(role string) ([]Payload, error) {
	if !m.Exists() {
		return nil, ErrNotFound
	}
	role = strings.TrimSpace(role)
	if role == "" {
		return nil, invalidPayload(ErrInvalidRole)
	}
	return []Payload{MemberRoleChanged{MemberID: m.ID, Role: role}}, nil
}

package domain

import (
	"net/mail"
	"strings"
)

// UserCreated opens a user stream. PasswordHash never carries the plain password.
type UserCreated struct {
	UserID       string `json:"userId"`
	PasswordHash string `json:"password"`
	Email        string `json:"email"`
	Role         string `json:"role"`
}

// UserRoleChanged records a new user role.
type UserRoleChanged struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

func (UserCreated) EventType() EventType     { return EventUserCreated }
func (UserRoleChanged) EventType() EventType { return EventUserRoleChanged }

func (UserCreated) isPayload()     {}
func (UserRoleChanged) isPayload() {}

// User is the folded state of one user stream.
type User struct {
	ID           string
	Role         string
	Email        string
	PasswordHash string
}

// Exists reports whether a creation event has been folded.
func (u User) Exists() bool {
	return u.ID != ""
}

// FoldUser rebuilds a user from its stream.
func FoldUser(events []RecordedEvent) (User, error) {
	return Fold(User{}, events, applyUser)
}

func applyUser(u User, payload Payload) (User, error) {
	if created, ok := payload.(UserCreated); ok {
		if u.Exists() {
			return u, ErrAlreadyExists
		}
		return User{
			ID:           created.UserID,
			Role:         created.Role,
			Email:        created.Email,
			PasswordHash: created.PasswordHash,
		}, nil
	}
	if !u.Exists() {
		return u, ErrNotFound
	}

	switch ev := payload.(type) {
	case UserRoleChanged:
		u.Role = ev.Role
	default:
		return u, unknownEvent(payload)
	}
	return u, nil
}

// NewUserCreated validates a user creation request. passwordHash must already be hashed.
func NewUserCreated(userID, email, role, passwordHash string) (UserCreated, error) {
	userID = strings.TrimSpace(userID)
	email = strings.TrimSpace(email)
	role = strings.TrimSpace(role)
	if userID == "" {
		return UserCreated{}, invalidPayload(ErrInvalidID)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return UserCreated{}, invalidPayload(ErrInvalidEmail)
	}
	if role == "" {
		return UserCreated{}, invalidPayload(ErrInvalidRole)
	}
	return UserCreated{
		UserID:       userID,
		PasswordHash: passwordHash,
		Email:        email,
		Role:         role,
	}, nil
}

// ChangeRole decides the events for a new user role.
func (u User) ChangeRole(role string) ([]Payload, error) {
	if !u.Exists() {
		return nil, ErrNotFound
	}
	role = strings.TrimSpace(role)
	if role == "" {
		return nil, invalidPayload(ErrInvalidRole)
	}
	return []Payload{UserRoleChanged{UserID: u.ID, Role: role}}, nil
}

package projection

import (
	"context"

	"github.com/hylla/strom/internal/domain"
	"github.com/hylla/strom/internal/readmodel"
)

// UserView maintains user documents. Password hashes stay in the stream.
type UserView struct{}

// Name returns the projection name.
func (UserView) Name() string { return "user-view" }

// Apply projects one user event.
func (UserView) Apply(ctx context.Context, tx readmodel.Tx, event domain.RecordedEvent) error {
	switch ev := event.Data.(type) {
	case domain.UserCreated:
		return tx.InsertUser(ctx, readmodel.User{
			ID:        ev.UserID,
			Email:     ev.Email,
			Role:      ev.Role,
			Revision:  event.Revision,
			UpdatedAt: event.Metadata.CreatedAt,
		})
	case domain.UserRoleChanged:
		u, err := tx.GetUser(ctx, ev.UserID)
		if err != nil {
			return notYet("user", ev.UserID, err)
		}
		apply, err := step("user", u.ID, u.Revision, event.Revision)
		if err != nil || !apply {
			return err
		}
		expected := u.Revision
		u.Role = ev.Role
		u.Revision = event.Revision
		u.UpdatedAt = event.Metadata.CreatedAt
		ok, err := tx.UpdateUser(ctx, u, expected)
		return swapped("user", u.ID, ok, err)
	default:
		return nil
	}
}

package projection

import (
	"context"

	"github.com/hylla/strom/internal/domain"
	"github.com/hylla/strom/internal/readmodel"
)

// ProjectView maintains project and member documents.
type ProjectView struct{}

// Name returns the projection name.
func (ProjectView) Name() string { return "project-view" }

// Apply projects one project or member event.
func (ProjectView) Apply(ctx context.Context, tx readmodel.Tx, event domain.RecordedEvent) error {
	at := event.Metadata.CreatedAt
	switch ev := event.Data.(type) {
	case domain.ProjectCreated:
		return tx.InsertProject(ctx, readmodel.Project{
			ID:          ev.ProjectID,
			Name:        ev.Name,
			OwnerID:     ev.OwnerID,
			TaskBoardID: ev.TaskBoardID,
			Revision:    event.Revision,
			UpdatedAt:   at,
		})
	case domain.ProjectRenamed:
		return updateProject(ctx, tx, ev.ProjectID, event, func(p *readmodel.Project) {
			p.Name = ev.Name
		})
	case domain.MemberAdded:
		applied := false
		err := updateProject(ctx, tx, ev.ProjectID, event, func(p *readmodel.Project) {
			p.TotalMembersCount++
			applied = true
		})
		if err != nil || !applied {
			return err
		}
		ok, err := tx.SetMemberProject(ctx, ev.MemberID, ev.ProjectID, at)
		return swappedMember(ev.MemberID, ok, err)
	case domain.MemberRemoved:
		applied := false
		err := updateProject(ctx, tx, ev.ProjectID, event, func(p *readmodel.Project) {
			p.TotalMembersCount = max(p.TotalMembersCount-1, 0)
			applied = true
		})
		if err != nil || !applied {
			return err
		}
		ok, err := tx.SetMemberProject(ctx, ev.MemberID, "", at)
		return swappedMember(ev.MemberID, ok, err)
	case domain.MemberCreated:
		return tx.InsertMember(ctx, readmodel.Member{
			ID:        ev.MemberID,
			UserID:    ev.UserID,
			Role:      ev.Role,
			Revision:  event.Revision,
			UpdatedAt: at,
		})
	case domain.MemberRoleChanged:
		m, err := tx.GetMember(ctx, ev.MemberID)
		if err != nil {
			return notYet("member", ev.MemberID, err)
		}
		apply, err := step("member", m.ID, m.Revision, event.Revision)
		if err != nil || !apply {
			return err
		}
		expected := m.Revision
		m.Role = ev.Role
		m.Revision = event.Revision
		m.UpdatedAt = at
		ok, err := tx.UpdateMember(ctx, m, expected)
		return swapped("member", m.ID, ok, err)
	default:
		return nil
	}
}

// updateProject runs the revision check and a conditional write for one project event.
// mutate is only called when the event applies.
func updateProject(ctx context.Context, tx readmodel.Tx, id string, event domain.RecordedEvent, mutate func(*readmodel.Project)) error {
	p, err := tx.GetProject(ctx, id)
	if err != nil {
		return notYet("project", id, err)
	}
	apply, err := step("project", id, p.Revision, event.Revision)
	if err != nil || !apply {
		return err
	}
	expected := p.Revision
	mutate(&p)
	p.Revision = event.Revision
	p.UpdatedAt = event.Metadata.CreatedAt
	ok, err := tx.UpdateProject(ctx, p, expected)
	return swapped("project", id, ok, err)
}

// swappedMember reports a missing member document as not caught up.
func swappedMember(id string, ok bool, err error) error {
	if err != nil {
		return err
	}
	if !ok {
		return notYet("member", id, readmodel.ErrNotFound)
	}
	return nil
}

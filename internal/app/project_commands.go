package app

import (
	"context"

	"github.com/hylla/strom/internal/domain"
)

func (s *Service) createProject(ctx context.Context, cmd domain.Command, in domain.CreateProject) error {
	created, err := domain.NewProjectCreated(in.ProjectID, in.Name, in.OwnerID, in.TaskBoardID)
	if err != nil {
		return err
	}
	return s.create(ctx, cmd, domain.ProjectStream(created.ProjectID), created)
}

func (s *Service) updateProjectName(ctx context.Context, cmd domain.Command, in domain.UpdateProjectName) error {
	return mutate(ctx, s, cmd, domain.ProjectStream(in.ProjectID), domain.FoldProject, func(p domain.Project) ([]domain.Payload, error) {
		return p.Rename(in.Name)
	})
}

// addMemberToProject writes the member stream and then the project stream.
// The two appends are not atomic: when the project append fails the member
// stream stays committed and the error wraps ErrPartialWrite.
func (s *Service) addMemberToProject(ctx context.Context, cmd domain.Command, in domain.AddMemberToProject) error {
	created, err := domain.NewMemberCreated(in.MemberID, in.UserID, in.Role)
	if err != nil {
		return err
	}
	memberStream := domain.MemberStream(created.MemberID)
	if err := s.create(ctx, cmd, memberStream, created); err != nil {
		return err
	}

	err = mutate(ctx, s, cmd, domain.ProjectStream(in.ProjectID), domain.FoldProject, func(p domain.Project) ([]domain.Payload, error) {
		return p.AddMember(created.MemberID)
	})
	if err != nil {
		return partialWrite(memberStream, err)
	}
	return nil
}

func (s *Service) removeMemberFromProject(ctx context.Context, cmd domain.Command, in domain.RemoveMemberFromProject) error {
	return mutate(ctx, s, cmd, domain.ProjectStream(in.ProjectID), domain.FoldProject, func(p domain.Project) ([]domain.Payload, error) {
		return p.RemoveMember(in.MemberID)
	})
}

func (s *Service) updateMemberRole(ctx context.Context, cmd domain.Command, in domain.UpdateMemberRole) error {
	return mutate(ctx, s, cmd, domain.MemberStream(in.MemberID), domain.FoldMember, func(m domain.Member) ([]domain.Payload, error) {
		return m.ChangeRole(in.Role)
	})
}

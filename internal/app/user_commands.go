package app

import (
	"context"
	"fmt"

	"github.com/hylla/strom/internal/domain"
)

func (s *Service) createUser(ctx context.Context, cmd domain.Command, in domain.CreateUser) error {
	if in.Password == "" {
		return fmt.Errorf("%w: %w", domain.ErrInvalidPayload, domain.ErrInvalidPassword)
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	created, err := domain.NewUserCreated(in.UserID, in.Email, in.Role, hash)
	if err != nil {
		return err
	}
	return s.create(ctx, cmd, domain.UserStream(created.UserID), created)
}

// Login verifies a user's password against the folded user stream.
func (s *Service) Login(ctx context.Context, userID, password string) (domain.User, error) {
	return s.loginUser(ctx, domain.LoginUser{UserID: userID, Password: password})
}

func (s *Service) loginUser(ctx context.Context, in domain.LoginUser) (domain.User, error) {
	stream := domain.UserStream(in.UserID)
	loaded, err := s.load(ctx, stream)
	if err != nil {
		return domain.User{}, err
	}
	if !loaded.Version.Exists() {
		return domain.User{}, fmt.Errorf("%s: %w", stream, domain.ErrNotFound)
	}
	user, err := domain.FoldUser(loaded.Events)
	if err != nil {
		return domain.User{}, err
	}
	if err := s.hasher.Compare(user.PasswordHash, in.Password); err != nil {
		return domain.User{}, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}
	return user, nil
}

func (s *Service) updateUserRole(ctx context.Context, cmd domain.Command, in domain.UpdateUserRole) error {
	return mutate(ctx, s, cmd, domain.UserStream(in.UserID), domain.FoldUser, func(u domain.User) ([]domain.Payload, error) {
		return u.ChangeRole(in.Role)
	})
}

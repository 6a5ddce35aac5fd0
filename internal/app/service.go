package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hylla/strom/internal/domain"
)

// defaultStoreTimeout bounds one store call when the config leaves it unset.
const defaultStoreTimeout = 5 * time.Second

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	StoreTimeout time.Duration
	Hasher       PasswordHasher
}

// IDGenerator returns unique identifiers for new envelopes.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// Service is the command-handling entry point for every aggregate.
type Service struct {
	store        EventStore
	idGen        IDGenerator
	clock        Clock
	hasher       PasswordHasher
	storeTimeout time.Duration
}

// NewService constructs a new value for this package.
func NewService(store EventStore, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = uuid.NewString
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.Hasher == nil {
		cfg.Hasher = NewBcryptHasher(0)
	}
	return &Service{
		store:        store,
		idGen:        idGen,
		clock:        clock,
		hasher:       cfg.Hasher,
		storeTimeout: cfg.StoreTimeout,
	}
}

// NewCommand stamps a command envelope with a fresh id and the service clock.
func (s *Service) NewCommand(data domain.CommandPayload) domain.Command {
	return domain.NewCommand(s.idGen(), data, s.clock())
}

// Dispatch wraps data in a new envelope and handles it.
func (s *Service) Dispatch(ctx context.Context, data domain.CommandPayload) error {
	return s.Handle(ctx, s.NewCommand(data))
}

// Handle routes one command to its handler.
func (s *Service) Handle(ctx context.Context, cmd domain.Command) error {
	switch data := cmd.Data.(type) {
	case domain.CreateProject:
		return s.createProject(ctx, cmd, data)
	case domain.UpdateProjectName:
		return s.updateProjectName(ctx, cmd, data)
	case domain.AddMemberToProject:
		return s.addMemberToProject(ctx, cmd, data)
	case domain.RemoveMemberFromProject:
		return s.removeMemberFromProject(ctx, cmd, data)
	case domain.UpdateMemberRole:
		return s.updateMemberRole(ctx, cmd, data)
	case domain.CreateTaskBoard:
		return s.createTaskBoard(ctx, cmd, data)
	case domain.AddNewTaskToTaskBoard:
		return s.addNewTaskToTaskBoard(ctx, cmd, data)
	case domain.RemoveTaskFromTaskBoard:
		return s.removeTaskFromTaskBoard(ctx, cmd, data)
	case domain.UpdateTaskStatus:
		return s.updateTaskStatus(ctx, cmd, data)
	case domain.UpdateTaskAssignee:
		return s.updateTaskAssignee(ctx, cmd, data)
	case domain.CreateUser:
		return s.createUser(ctx, cmd, data)
	case domain.LoginUser:
		_, err := s.loginUser(ctx, data)
		return err
	case domain.UpdateUserRole:
		return s.updateUserRole(ctx, cmd, data)
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownCommand, cmd.Type)
	}
}

// LoadStream returns the raw events of one stream.
func (s *Service) LoadStream(ctx context.Context, stream string) (LoadedStream, error) {
	return s.load(ctx, stream)
}

// create appends the creation event of a new stream.
func (s *Service) create(ctx context.Context, cmd domain.Command, stream string, created domain.Payload) error {
	_, err := s.save(ctx, cmd, stream, []domain.Payload{created}, ExpectNoStream())
	if errors.Is(err, ErrVersionConflict) {
		return fmt.Errorf("create %s: %w", stream, errors.Join(domain.ErrAlreadyExists, err))
	}
	return err
}

// mutate runs load -> fold -> decide -> save against one existing stream.
func mutate[S any](
	ctx context.Context,
	s *Service,
	cmd domain.Command,
	stream string,
	fold func([]domain.RecordedEvent) (S, error),
	decide func(S) ([]domain.Payload, error),
) error {
	loaded, err := s.load(ctx, stream)
	if err != nil {
		return err
	}
	if !loaded.Version.Exists() {
		return fmt.Errorf("%s: %w", stream, domain.ErrNotFound)
	}
	state, err := fold(loaded.Events)
	if err != nil {
		return err
	}
	payloads, err := decide(state)
	if err != nil {
		return fmt.Errorf("%s: %w", stream, err)
	}
	if len(payloads) == 0 {
		return nil
	}
	_, err = s.save(ctx, cmd, stream, payloads, ExpectRevision(loaded.Version))
	return err
}

// load reads one stream under the store timeout.
func (s *Service) load(ctx context.Context, stream string) (LoadedStream, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	loaded, err := s.store.Load(ctx, stream)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return LoadedStream{}, fmt.Errorf("load %s: %w", stream, errors.Join(ErrTransientStore, err))
		}
		return LoadedStream{}, fmt.Errorf("load %s: %w", stream, err)
	}
	return loaded, nil
}

// save wraps payloads in envelopes and appends them under the store timeout.
// A timed-out append may or may not have committed; callers must reload before retrying.
func (s *Service) save(ctx context.Context, cmd domain.Command, stream string, payloads []domain.Payload, expected ExpectedVersion) (domain.StreamVersion, error) {
	events := make([]domain.Event, 0, len(payloads))
	now := s.clock()
	for _, payload := range payloads {
		event := domain.NewEvent(s.idGen(), payload, now)
		correlationID := cmd.Metadata.CorrelationID
		if correlationID == "" {
			correlationID = cmd.ID
		}
		events = append(events, event.WithCausation(correlationID, cmd.ID))
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	version, err := s.store.Save(ctx, stream, events, expected)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.NoStream, fmt.Errorf("save %s: %w", stream, errors.Join(ErrAmbiguousAppend, err))
		}
		return domain.NoStream, fmt.Errorf("save %s: %w", stream, err)
	}
	return version, nil
}

// partialWrite reports a second-stream failure after the first stream already committed.
func partialWrite(committedStream string, err error) error {
	return fmt.Errorf("%w: %s committed: %w", ErrPartialWrite, committedStream, err)
}

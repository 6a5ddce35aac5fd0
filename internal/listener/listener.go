// Package listener reacts to public events from other services by issuing commands.
package listener

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/strom/internal/bus"
	"github.com/hylla/strom/internal/domain"
	"github.com/hylla/strom/internal/readmodel"
	"github.com/hylla/strom/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Outcome labels reported to metrics.
const (
	outcomeOK        = "ok"
	outcomeDuplicate = "duplicate"
	outcomeDropped   = "dropped"
	outcomeError     = "error"
)

// Logger is the logging surface used by listeners.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// Commands is the command side the listeners drive.
type Commands interface {
	NewCommand(data domain.CommandPayload) domain.Command
	Handle(ctx context.Context, cmd domain.Command) error
	ReleaseMemberTasks(ctx context.Context, causation domain.Command, memberID string, taskIDs []string) error
}

// TaskLookup finds tasks by their projected assignee.
type TaskLookup interface {
	ListTasksByAssignee(ctx context.Context, assigneeID string) ([]readmodel.Task, error)
}

// Inbox records processed message ids per consumer.
type Inbox interface {
	Seen(ctx context.Context, consumer, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, consumer, messageID string) error
}

// TaskBoards keeps task boards and tasks in step with project events.
type TaskBoards struct {
	cmds    Commands
	tasks   TaskLookup
	inbox   Inbox
	logger  Logger
	metrics *telemetry.Metrics
}

// NewTaskBoards constructs the task-board listeners. inbox may be nil.
func NewTaskBoards(cmds Commands, tasks TaskLookup, inbox Inbox, logger Logger, metrics *telemetry.Metrics) (*TaskBoards, error) {
	if cmds == nil || tasks == nil {
		return nil, errors.New("commands and task lookup are required")
	}
	if logger == nil {
		logger = discardLogger{}
	}
	return &TaskBoards{cmds: cmds, tasks: tasks, inbox: inbox, logger: logger, metrics: metrics}, nil
}

// Run subscribes both listeners under group until ctx is cancelled or one fails.
func (l *TaskBoards) Run(ctx context.Context, sub bus.Subscriber, group string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sub.Subscribe(ctx, bus.TopicProjectCreated, group, l.wrap(group, l.HandleProjectCreated))
	})
	g.Go(func() error {
		return sub.Subscribe(ctx, bus.TopicMemberRemoved, group, l.wrap(group, l.HandleMemberRemoved))
	})
	return g.Wait()
}

// HandleProjectCreated creates the project's task board. A board that already
// exists means an earlier delivery got there first.
func (l *TaskBoards) HandleProjectCreated(ctx context.Context, msg bus.Message) error {
	var in domain.ProjectCreated
	if err := decode(msg, &in); err != nil {
		return err
	}
	cmd := l.command(msg, domain.CreateTaskBoard{TaskBoardID: in.TaskBoardID})
	err := l.cmds.Handle(ctx, cmd)
	if errors.Is(err, domain.ErrAlreadyExists) {
		l.logger.Debug("task board already exists", "task_board_id", in.TaskBoardID, "message_id", msg.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("create task board %s: %w", in.TaskBoardID, err)
	}
	l.logger.Info("task board created", "task_board_id", in.TaskBoardID, "project_id", in.ProjectID)
	return nil
}

// HandleMemberRemoved unassigns the member from every task the read model
// shows them holding, moving in-progress work back to TODO.
func (l *TaskBoards) HandleMemberRemoved(ctx context.Context, msg bus.Message) error {
	var in domain.MemberRemoved
	if err := decode(msg, &in); err != nil {
		return err
	}
	if strings.TrimSpace(in.MemberID) == "" {
		return fmt.Errorf("%w: member-removed without member id", domain.ErrInvalidPayload)
	}
	tasks, err := l.tasks.ListTasksByAssignee(ctx, in.MemberID)
	if err != nil {
		return fmt.Errorf("list tasks for %s: %w", in.MemberID, err)
	}
	if len(tasks) == 0 {
		return nil
	}
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	// ReleaseMemberTasks is not routed through Handle; the envelope only carries causation.
	cmd := l.command(msg, domain.UpdateTaskAssignee{AssigneeID: ""})
	if err := l.cmds.ReleaseMemberTasks(ctx, cmd, in.MemberID, ids); err != nil {
		return err
	}
	l.logger.Info("member tasks released", "member_id", in.MemberID, "tasks", len(ids))
	return nil
}

func (l *TaskBoards) command(msg bus.Message, data domain.CommandPayload) domain.Command {
	cmd := l.cmds.NewCommand(data)
	cmd.Metadata.CorrelationID = msg.ID
	return cmd
}

// wrap adds inbox dedupe, metrics and poison-message handling around h.
func (l *TaskBoards) wrap(group string, h bus.Handler) bus.Handler {
	return func(ctx context.Context, msg bus.Message) error {
		consumer := group + ":" + msg.Topic
		if l.inbox != nil && msg.ID != "" {
			seen, err := l.inbox.Seen(ctx, consumer, msg.ID)
			if err != nil {
				l.metrics.BusHandled(msg.Topic, outcomeError)
				return fmt.Errorf("check inbox: %w", err)
			}
			if seen {
				l.metrics.BusHandled(msg.Topic, outcomeDuplicate)
				l.logger.Debug("duplicate message skipped", "topic", msg.Topic, "message_id", msg.ID)
				return nil
			}
		}

		err := h(ctx, msg)
		switch {
		case errors.Is(err, domain.ErrInvalidPayload), errors.Is(err, domain.ErrUnknownEventType):
			l.metrics.BusHandled(msg.Topic, outcomeDropped)
			l.logger.Error("undecodable message dropped", "topic", msg.Topic, "message_id", msg.ID, "err", err)
			return nil
		case err != nil:
			l.metrics.BusHandled(msg.Topic, outcomeError)
			return err
		}

		if l.inbox != nil && msg.ID != "" {
			if err := l.inbox.MarkProcessed(ctx, consumer, msg.ID); err != nil {
				l.logger.Warn("inbox mark failed", "topic", msg.Topic, "message_id", msg.ID, "err", err)
			}
		}
		l.metrics.BusHandled(msg.Topic, outcomeOK)
		return nil
	}
}

// decode unpacks msg into target, which must point at the payload type for msg's topic.
func decode[P domain.Payload](msg bus.Message, target *P) error {
	payload, err := bus.DecodeEnvelope(msg.Body)
	if err != nil {
		return err
	}
	got, ok := payload.(P)
	if !ok {
		return fmt.Errorf("%w: topic %s carried %s", domain.ErrInvalidPayload, msg.Topic, payload.EventType())
	}
	*target = got
	return nil
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}

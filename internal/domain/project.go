package domain

import (
	"slices"
	"strings"
)

// ProjectCreated opens a project stream.
type ProjectCreated struct {
	ProjectID   string `json:"projectId"`
	Name        string `json:"name"`
	OwnerID     string `json:"ownerId"`
	TaskBoardID string `json:"taskBoardId"`
}

// ProjectRenamed records a new project name.
type ProjectRenamed struct {
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
}

// MemberAdded records that a member joined the project.
type MemberAdded struct {
	ProjectID string `json:"projectId"`
	MemberID  string `json:"memberId"`
}

// MemberRemoved records that a member left the project.
type MemberRemoved struct {
	ProjectID string `json:"projectId"`
	MemberID  string `json:"memberId"`
}

func (ProjectCreated) EventType() EventType { return EventProjectCreated }
func (ProjectRenamed) EventType() EventType { return EventProjectRenamed }
func (MemberAdded) EventType() EventType    { return EventMemberAdded }
func (MemberRemoved) EventType() EventType  { return EventMemberRemoved }

func (ProjectCreated) isPayload() {}
func (ProjectRenamed) isPayload() {}
func (MemberAdded) isPayload()    {}
func (MemberRemoved) isPayload()  {}

// Project is the folded state of one project stream.
type Project struct {
	ID          string
	Name        string
	OwnerID     string
	TaskBoardID string
	MemberIDs   []string
}

// Exists reports whether a creation event has been folded.
func (p Project) Exists() bool {
	return p.ID != ""
}

// HasMember reports whether memberID is currently part of the project.
func (p Project) HasMember(memberID string) bool {
	return slices.Contains(p.MemberIDs, memberID)
}

// FoldProject rebuilds a project from its stream.
func FoldProject(events []RecordedEvent) (Project, error) {
	return Fold(Project{}, events, applyProject)
}

// applyProject applies one event to project state.
func applyProject(p Project, payload Payload) (Project, error) {
	if created, ok := payload.(ProjectCreated); ok {
		if p.Exists() {
			return p, ErrAlreadyExists
		}
		return Project{
			ID:          created.ProjectID,
			Name:        created.Name,
			OwnerID:     created.OwnerID,
			TaskBoardID: created.TaskBoardID,
			MemberIDs:   []string{},
		}, nil
	}
	if !p.Exists() {
		return p, ErrNotFound
	}

	switch ev := payload.(type) {
	case ProjectRenamed:
		p.Name = ev.Name
	case MemberAdded:
		p.MemberIDs = append(slices.Clone(p.MemberIDs), ev.MemberID)
	case MemberRemoved:
		p.MemberIDs = slices.DeleteFunc(slices.Clone(p.MemberIDs), func(id string) bool {
			return id == ev.MemberID
		})
	default:
		return p, unknownEvent(payload)
	}
	return p, nil
}

// NewProjectCreated validates a create request and returns the creation event.
func NewProjectCreated(projectID, name, ownerID, taskBoardID string) (ProjectCreated, error) {
	projectID = strings.TrimSpace(projectID)
	name = strings.TrimSpace(name)
	ownerID = strings.TrimSpace(ownerID)
	taskBoardID = strings.TrimSpace(taskBoardID)
	if projectID == "" || ownerID == "" || taskBoardID == "" {
		return ProjectCreated{}, invalidPayload(ErrInvalidID)
	}
	if name == "" {
		return ProjectCreated{}, invalidPayload(ErrInvalidName)
	}
	return ProjectCreated{
		ProjectID:   projectID,
		Name:        name,
		OwnerID:     ownerID,
		TaskBoardID: taskBoardID,
	}, nil
}

// Rename decides the events for a new project name.
func (p Project) Rename(name string) ([]Payload, error) {
	if !p.Exists() {
		return nil, ErrNotFound
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalidPayload(ErrInvalidName)
	}
	return []Payload{ProjectRenamed{ProjectID: p.ID, Name: name}}, nil
}

// AddMember decides the events for adding one member.
func (p Project) AddMember(memberID string) ([]Payload, error) {
	if !p.Exists() {
		return nil, ErrNotFound
	}
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return nil, invalidPayload(ErrInvalidID)
	}
	if p.HasMember(memberID) {
		return nil, ErrAlreadyExists
	}
	return []Payload{MemberAdded{ProjectID: p.ID, MemberID: memberID}}, nil
}

// RemoveMember decides the events for removing one member. Removing a non-member is a no-op.
func (p Project) RemoveMember(memberID string) ([]Payload, error) {
	if !p.Exists() {
		return nil, ErrNotFound
	}
	if !p.HasMember(strings.TrimSpace(memberID)) {
		return nil, nil
	}
	return []Payload{MemberRemoved{ProjectID: p.ID, MemberID: strings.TrimSpace(memberID)}}, nil
}

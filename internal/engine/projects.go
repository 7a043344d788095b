package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jconstantine618/ai-consulting-crm/internal/domain"
	"github.com/jconstantine618/ai-consulting-crm/internal/repo"
)

func validateProject(p domain.Project) error {
	if p.Progress < 0 || p.Progress > 100 {
		return validationError("progress must be between 0 and 100")
	}
	if err := validDate("startDate", p.StartDate); err != nil {
		return err
	}
	return validDate("endDate", p.EndDate)
}

// AddProject stores a project. Missing dates default to today and a
// missing task list to empty. An empty name is stored as is.
func (e Engine) AddProject(ctx context.Context, scope domain.Scope, p domain.Project) (domain.Project, error) {
	p.Name = strings.TrimSpace(p.Name)
	today := e.Today()
	if p.StartDate == "" {
		p.StartDate = today
	}
	if p.EndDate == "" {
		p.EndDate = today
	}
	if p.Tasks == nil {
		p.Tasks = []domain.Task{}
	}
	if err := validateProject(p); err != nil {
		return domain.Project{}, err
	}
	id, err := e.create(ctx, scope, domain.KindProjects, p)
	if err != nil {
		return domain.Project{}, err
	}
	p.ID = id
	return p, nil
}

func (e Engine) UpdateProject(ctx context.Context, scope domain.Scope, id string, patch domain.ProjectPatch) (domain.Project, error) {
	cur, err := e.GetProject(ctx, scope, id)
	if err != nil {
		return domain.Project{}, err
	}
	next := applyProjectPatch(cur, patch)
	if strings.TrimSpace(next.Name) == "" {
		return domain.Project{}, validationError("project name must not be empty")
	}
	if err := validateProject(next); err != nil {
		return domain.Project{}, err
	}
	if err := e.patch(ctx, scope, domain.KindProjects, id, patch); err != nil {
		return domain.Project{}, err
	}
	return next, nil
}

func applyProjectPatch(p domain.Project, patch domain.ProjectPatch) domain.Project {
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Client != nil {
		p.Client = *patch.Client
	}
	if patch.StartDate != nil {
		p.StartDate = *patch.StartDate
	}
	if patch.EndDate != nil {
		p.EndDate = *patch.EndDate
	}
	if patch.Progress != nil {
		p.Progress = *patch.Progress
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Tasks != nil {
		p.Tasks = *patch.Tasks
	}
	return p
}

func (e Engine) DeleteProject(ctx context.Context, scope domain.Scope, id string) error {
	return e.Store.Delete(ctx, scope, domain.KindProjects, id)
}

func (e Engine) GetProject(ctx context.Context, scope domain.Scope, id string) (domain.Project, error) {
	rec, err := e.Store.Get(ctx, scope, domain.KindProjects, id)
	if err != nil {
		return domain.Project{}, err
	}
	p, err := decodeRecord[domain.Project](rec)
	if err != nil {
		return domain.Project{}, err
	}
	if p.Tasks == nil {
		p.Tasks = []domain.Task{}
	}
	return p, nil
}

func (e Engine) ListProjects(ctx context.Context, scope domain.Scope) ([]domain.Project, error) {
	recs, err := e.Store.List(ctx, scope, domain.KindProjects)
	if err != nil {
		return nil, err
	}
	return ProjectsFromRecords(recs)
}

// AddTask appends an open task to a project.
func (e Engine) AddTask(ctx context.Context, scope domain.Scope, projectID, name string) (domain.Task, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Task{}, validationError("task name is required")
	}
	p, err := e.GetProject(ctx, scope, projectID)
	if err != nil {
		return domain.Task{}, err
	}
	task := domain.Task{ID: newTaskID(p.Tasks), Name: name}
	tasks := append(p.Tasks, task)
	if _, err := e.UpdateProject(ctx, scope, projectID, domain.ProjectPatch{Tasks: &tasks}); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

// ToggleTask flips the completed flag of one task.
func (e Engine) ToggleTask(ctx context.Context, scope domain.Scope, projectID, taskID string) (domain.Task, error) {
	p, err := e.GetProject(ctx, scope, projectID)
	if err != nil {
		return domain.Task{}, err
	}
	i := taskIndex(p.Tasks, taskID)
	if i < 0 {
		return domain.Task{}, fmt.Errorf("task %s: %w", taskID, repo.ErrNotFound)
	}
	p.Tasks[i].Completed = !p.Tasks[i].Completed
	if _, err := e.UpdateProject(ctx, scope, projectID, domain.ProjectPatch{Tasks: &p.Tasks}); err != nil {
		return domain.Task{}, err
	}
	return p.Tasks[i], nil
}

func (e Engine) DeleteTask(ctx context.Context, scope domain.Scope, projectID, taskID string) error {
	p, err := e.GetProject(ctx, scope, projectID)
	if err != nil {
		return err
	}
	i := taskIndex(p.Tasks, taskID)
	if i < 0 {
		return fmt.Errorf("task %s: %w", taskID, repo.ErrNotFound)
	}
	tasks := append(p.Tasks[:i:i], p.Tasks[i+1:]...)
	_, err = e.UpdateProject(ctx, scope, projectID, domain.ProjectPatch{Tasks: &tasks})
	return err
}

func taskIndex(tasks []domain.Task, id string) int {
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func newTaskID(existing []domain.Task) string {
	for {
		id := uuid.NewString()
		if taskIndex(existing, id) < 0 {
			return id
		}
	}
}

package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jconstantine618/ai-consulting-crm/internal/domain"
)

// execute runs a confirmed draft. The draft is discarded whatever happens.
func (p *Pipeline) execute(ctx context.Context, draft ActionDraft) outcome {
	if p.opts.ExecuteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.ExecuteTimeout)
		defer cancel()
	}
	log := p.log.With(zap.String("intent", string(draft.Intent)))
	out, err := p.run(ctx, draft)
	if err != nil {
		log.Error("action failed", zap.Error(err))
		return outcome{text: msgSaveFailed, kind: OutcomeSaveError}
	}
	if out.kind == OutcomeExecuted {
		log.Info("action executed")
	}
	return out
}

func (p *Pipeline) run(ctx context.Context, draft ActionDraft) (outcome, error) {
	if p.opts.Actions == nil {
		return outcome{}, fmt.Errorf("no actions configured")
	}
	f, err := decodeFields(draft.Fields)
	if err != nil {
		return outcome{}, fmt.Errorf("decode fields: %w", err)
	}
	today := p.opts.Now().UTC().Format(time.DateOnly)

	switch draft.Intent {
	case IntentAddContact:
		c := domain.Contact{
			Name:          f.Name,
			Company:       f.Company,
			Title:         f.Title,
			Email:         f.Email,
			Phone:         f.Phone,
			Notes:         f.Notes,
			LastContacted: orString(f.LastContacted, today),
		}
		if _, err := p.opts.Actions.AddContact(ctx, c); err != nil {
			return outcome{}, err
		}
		return outcome{text: msgContactAdded(f.Name), kind: OutcomeExecuted}, nil

	case IntentUpdateDeal:
		deal, ok := p.findDeal(f.DealName)
		if !ok {
			return outcome{text: msgDealNotFound(f.DealName), kind: OutcomeNotFound}, nil
		}
		stage := orString(f.Stage, deal.Stage)
		closeDate := orString(f.ExpectedCloseDate, deal.ExpectedCloseDate)
		notes := orString(f.Notes, deal.Notes)
		value := orFloat(f.Value, deal.Value)
		probability := orFloat(f.Probability, deal.Probability)
		patch := domain.DealPatch{
			Stage:             &stage,
			Value:             &value,
			ExpectedCloseDate: &closeDate,
			Probability:       &probability,
			Notes:             &notes,
		}
		if _, err := p.opts.Actions.UpdateDeal(ctx, deal.ID, patch); err != nil {
			return outcome{}, err
		}
		return outcome{text: msgDealUpdated(f.DealName), kind: OutcomeExecuted}, nil

	case IntentAddProject:
		name := f.projectName()
		project := domain.Project{
			Name:        name,
			Client:      f.projectClient(),
			StartDate:   orString(f.StartDate, today),
			EndDate:     orString(f.EndDate, today),
			Progress:    orFloat(f.Progress, 0),
			Description: f.Description,
			Tasks:       []domain.Task{},
		}
		if _, err := p.opts.Actions.AddProject(ctx, project); err != nil {
			return outcome{}, err
		}
		return outcome{text: msgProjectAdded(name), kind: OutcomeExecuted}, nil

	case IntentAddTaskToProject:
		project, ok := p.findProject(f.ProjectName, f.ProjectID)
		if !ok {
			return outcome{text: msgProjectNotFound(f.ProjectName), kind: OutcomeNotFound}, nil
		}
		tasks := append(append([]domain.Task(nil), project.Tasks...), domain.Task{
			ID:   p.taskID(project.Tasks),
			Name: f.TaskName,
		})
		if _, err := p.opts.Actions.UpdateProject(ctx, project.ID, domain.ProjectPatch{Tasks: &tasks}); err != nil {
			return outcome{}, err
		}
		label := f.ProjectName
		if label == "" {
			label = project.Name
		}
		return outcome{text: msgTaskAdded(f.TaskName, label), kind: OutcomeExecuted}, nil
	}
	return outcome{}, fmt.Errorf("unsupported intent %q", draft.Intent)
}

// findDeal matches the full name case-insensitively. With duplicates the
// first deal in snapshot order wins.
func (p *Pipeline) findDeal(name string) (domain.Deal, bool) {
	if strings.TrimSpace(name) == "" {
		return domain.Deal{}, false
	}
	var (
		found domain.Deal
		n     int
	)
	for _, d := range p.opts.Snapshot.Deals() {
		if strings.EqualFold(d.Name, name) {
			if n == 0 {
				found = d
			}
			n++
		}
	}
	if n > 1 {
		p.log.Warn("deal name is ambiguous; using first match",
			zap.String("name", name), zap.Int("matches", n), zap.String("deal_id", found.ID))
	}
	return found, n > 0
}

// findProject matches by name like findDeal, or by id when no name was given.
func (p *Pipeline) findProject(name, id string) (domain.Project, bool) {
	var (
		found domain.Project
		n     int
	)
	for _, pr := range p.opts.Snapshot.Projects() {
		var match bool
		switch {
		case strings.TrimSpace(name) != "":
			match = strings.EqualFold(pr.Name, name)
		case id != "":
			match = pr.ID == id
		}
		if match {
			if n == 0 {
				found = pr
			}
			n++
		}
	}
	if n > 1 {
		p.log.Warn("project name is ambiguous; using first match",
			zap.String("name", name), zap.Int("matches", n), zap.String("project_id", found.ID))
	}
	return found, n > 0
}

func (p *Pipeline) taskID(existing []domain.Task) string {
	for {
		id := p.opts.NewID()
		taken := false
		for _, t := range existing {
			if t.ID == id {
				taken = true
				break
			}
		}
		if !taken {
			return id
		}
	}
}

package engine

import (
	"context"

	"github.com/jconstantine618/ai-consulting-crm/internal/domain"
)

// Bound is an Engine fixed to one user's scope. It satisfies the
// assistant's action surface.
type Bound struct {
	e     Engine
	scope domain.Scope
}

func Bind(e Engine, scope domain.Scope) Bound {
	return Bound{e: e, scope: scope}
}

func (b Bound) Scope() domain.Scope { return b.scope }

func (b Bound) AddContact(ctx context.Context, c domain.Contact) (domain.Contact, error) {
	return b.e.AddContact(ctx, b.scope, c)
}

func (b Bound) UpdateDeal(ctx context.Context, id string, p domain.DealPatch) (domain.Deal, error) {
	return b.e.UpdateDeal(ctx, b.scope, id, p)
}

func (b Bound) AddProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	return b.e.AddProject(ctx, b.scope, p)
}

func (b Bound) UpdateProject(ctx context.Context, id string, p domain.ProjectPatch) (domain.Project, error) {
	return b.e.UpdateProject(ctx, b.scope, id, p)
}

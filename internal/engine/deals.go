package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jconstantine618/ai-consulting-crm/internal/domain"
)

func validateDeal(d domain.Deal) error {
	if domain.StageIndex(d.Stage) < 0 {
		return validationError("unknown stage %q", d.Stage)
	}
	if d.Value < 0 {
		return validationError("value must not be negative")
	}
	if d.Probability < 0 || d.Probability > 100 {
		return validationError("probability must be between 0 and 100")
	}
	return validDate("expectedCloseDate", d.ExpectedCloseDate)
}

func (e Engine) AddDeal(ctx context.Context, scope domain.Scope, d domain.Deal) (domain.Deal, error) {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return domain.Deal{}, validationError("deal name is required")
	}
	if d.Stage == "" {
		d.Stage = domain.StageInitialContact
	}
	if err := validateDeal(d); err != nil {
		return domain.Deal{}, err
	}
	id, err := e.create(ctx, scope, domain.KindDeals, d)
	if err != nil {
		return domain.Deal{}, err
	}
	d.ID = id
	return d, nil
}

// UpdateDeal applies p on top of the stored deal.
func (e Engine) UpdateDeal(ctx context.Context, scope domain.Scope, id string, p domain.DealPatch) (domain.Deal, error) {
	cur, err := e.GetDeal(ctx, scope, id)
	if err != nil {
		return domain.Deal{}, err
	}
	next := applyDealPatch(cur, p)
	if strings.TrimSpace(next.Name) == "" {
		return domain.Deal{}, validationError("deal name must not be empty")
	}
	if err := validateDeal(next); err != nil {
		return domain.Deal{}, err
	}
	if err := e.patch(ctx, scope, domain.KindDeals, id, p); err != nil {
		return domain.Deal{}, err
	}
	return next, nil
}

func applyDealPatch(d domain.Deal, p domain.DealPatch) domain.Deal {
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.Company != nil {
		d.Company = *p.Company
	}
	if p.Value != nil {
		d.Value = *p.Value
	}
	if p.Stage != nil {
		d.Stage = *p.Stage
	}
	if p.ExpectedCloseDate != nil {
		d.ExpectedCloseDate = *p.ExpectedCloseDate
	}
	if p.Probability != nil {
		d.Probability = *p.Probability
	}
	if p.Notes != nil {
		d.Notes = *p.Notes
	}
	return d
}

// CanMove reports whether a deal may go from one stage to another on the board:
// one step forward, any step back, or straight to won.
func CanMove(from, to string) bool {
	fi, ti := domain.StageIndex(from), domain.StageIndex(to)
	if ti < 0 {
		return false
	}
	return to == domain.StageWon || ti == fi+1 || ti < fi
}

// MoveDeal changes only the stage of a deal, enforcing board transitions.
func (e Engine) MoveDeal(ctx context.Context, scope domain.Scope, id, stage string) (domain.Deal, error) {
	cur, err := e.GetDeal(ctx, scope, id)
	if err != nil {
		return domain.Deal{}, err
	}
	if domain.StageIndex(stage) < 0 {
		return domain.Deal{}, validationError("unknown stage %q", stage)
	}
	if !CanMove(cur.Stage, stage) {
		return domain.Deal{}, fmt.Errorf("%w: %s -> %s", ErrInvalidStageTransition, cur.Stage, stage)
	}
	if err := e.Store.Update(ctx, scope, domain.KindDeals, id, map[string]any{"stage": stage}); err != nil {
		return domain.Deal{}, err
	}
	e.logger().Debug("deal moved",
		zap.String("deal_id", id),
		zap.String("from", cur.Stage),
		zap.String("to", stage))
	cur.Stage = stage
	return cur, nil
}

func (e Engine) DeleteDeal(ctx context.Context, scope domain.Scope, id string) error {
	return e.Store.Delete(ctx, scope, domain.KindDeals, id)
}

func (e Engine) GetDeal(ctx context.Context, scope domain.Scope, id string) (domain.Deal, error) {
	rec, err := e.Store.Get(ctx, scope, domain.KindDeals, id)
	if err != nil {
		return domain.Deal{}, err
	}
	return decodeRecord[domain.Deal](rec)
}

func (e Engine) ListDeals(ctx context.Context, scope domain.Scope) ([]domain.Deal, error) {
	recs, err := e.Store.List(ctx, scope, domain.KindDeals)
	if err != nil {
		return nil, err
	}
	return DealsFromRecords(recs)
}

type BoardColumn struct {
	Stage string        `json:"stage"`
	Deals []domain.Deal `json:"deals"`
	Value float64       `json:"value"`
}

// Board groups deals by stage in pipeline order. Deals with an unknown
// stage are left off the board.
func Board(deals []domain.Deal) []BoardColumn {
	cols := make([]BoardColumn, len(domain.PipelineStages))
	for i, s := range domain.PipelineStages {
		cols[i] = BoardColumn{Stage: s, Deals: []domain.Deal{}}
	}
	for _, d := range deals {
		i := domain.StageIndex(d.Stage)
		if i < 0 {
			continue
		}
		cols[i].Deals = append(cols[i].Deals, d)
		cols[i].Value += d.Value
	}
	return cols
}

func (e Engine) Pipeline(ctx context.Context, scope domain.Scope) ([]BoardColumn, error) {
	deals, err := e.ListDeals(ctx, scope)
	if err != nil {
		return nil, err
	}
	return Board(deals), nil
}

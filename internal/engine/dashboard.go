package engine

import (
	"context"
	"sort"
	"time"

	"github.com/jconstantine618/ai-consulting-crm/internal/domain"
)

type Activity struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Stage  string `json:"stage,omitempty"`
	Client string `json:"client,omitempty"`
	Date   string `json:"date"`
}

type Dashboard struct {
	TotalContacts  int           `json:"totalContacts"`
	ActiveDeals    int           `json:"activeDeals"`
	PipelineValue  float64       `json:"pipelineValue"`
	ClosedDeals    int           `json:"closedDeals"`
	RecentActivity []Activity    `json:"recentActivity"`
	UpcomingDeals  []domain.Deal `json:"upcomingDeals"`
}

const (
	recentActivityLimit = 5
	upcomingDealsLimit  = 3
	noDate              = "N/A"
)

// BuildDashboard summarises the three collections. Items without a
// parseable date sort after dated ones.
func BuildDashboard(contacts []domain.Contact, deals []domain.Deal, projects []domain.Project) Dashboard {
	d := Dashboard{
		TotalContacts:  len(contacts),
		RecentActivity: []Activity{},
		UpcomingDeals:  []domain.Deal{},
	}
	var open []domain.Deal
	for _, deal := range deals {
		if deal.Won() {
			d.ClosedDeals++
			continue
		}
		d.ActiveDeals++
		d.PipelineValue += deal.Value
		open = append(open, deal)
	}

	activity := make([]Activity, 0, len(contacts)+len(deals)+len(projects))
	for _, c := range contacts {
		activity = append(activity, Activity{Type: "contact", Name: c.Name, Date: orNoDate(c.LastContacted)})
	}
	for _, deal := range deals {
		activity = append(activity, Activity{Type: "deal", Name: deal.Name, Stage: deal.Stage, Date: orNoDate(deal.ExpectedCloseDate)})
	}
	for _, p := range projects {
		activity = append(activity, Activity{Type: "project", Name: p.Name, Client: p.Client, Date: orNoDate(p.StartDate)})
	}
	sort.SliceStable(activity, func(i, j int) bool {
		return laterFirst(activity[i].Date, activity[j].Date)
	})
	d.RecentActivity = append(d.RecentActivity, activity[:min(recentActivityLimit, len(activity))]...)

	sort.SliceStable(open, func(i, j int) bool {
		return earlierFirst(open[i].ExpectedCloseDate, open[j].ExpectedCloseDate)
	})
	d.UpcomingDeals = append(d.UpcomingDeals, open[:min(upcomingDealsLimit, len(open))]...)
	return d
}

func (e Engine) Dashboard(ctx context.Context, scope domain.Scope) (Dashboard, error) {
	contacts, err := e.ListContacts(ctx, scope)
	if err != nil {
		return Dashboard{}, err
	}
	deals, err := e.ListDeals(ctx, scope)
	if err != nil {
		return Dashboard{}, err
	}
	projects, err := e.ListProjects(ctx, scope)
	if err != nil {
		return Dashboard{}, err
	}
	return BuildDashboard(contacts, deals, projects), nil
}

func orNoDate(v string) string {
	if v == "" {
		return noDate
	}
	return v
}

func parseDate(v string) (time.Time, bool) {
	t, err := time.Parse(time.DateOnly, v)
	return t, err == nil
}

func laterFirst(a, b string) bool {
	ta, oka := parseDate(a)
	tb, okb := parseDate(b)
	if oka != okb {
		return oka
	}
	return oka && ta.After(tb)
}

func earlierFirst(a, b string) bool {
	ta, oka := parseDate(a)
	tb, okb := parseDate(b)
	if oka != okb {
		return oka
	}
	return oka && ta.Before(tb)
}

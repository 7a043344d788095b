package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jconstantine618/ai-consulting-crm/internal/config"
	"github.com/jconstantine618/ai-consulting-crm/internal/db"
	"github.com/jconstantine618/ai-consulting-crm/internal/domain"
	"github.com/jconstantine618/ai-consulting-crm/internal/engine"
	"github.com/jconstantine618/ai-consulting-crm/internal/migrate"
	"github.com/jconstantine618/ai-consulting-crm/internal/recordstore"
	"github.com/jconstantine618/ai-consulting-crm/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Scope  domain.Scope
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err, "open db")
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, conn), "migrate")
	eng := engine.New(recordstore.New(conn), config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Scope: eng.Scope("user-1"), Ctx: ctx}
}

func ptr[T any](v T) *T { return &v }

func TestContactDefaultsAndSearch(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.AddContact(env.Ctx, env.Scope, domain.Contact{Name: "Jane Doe", Company: "Acme", Email: "jane@acme.io"})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "2024-01-01", c.LastContacted)
	_, err = env.Engine.AddContact(env.Ctx, env.Scope, domain.Contact{Name: "Bob", Company: "Globex"})
	require.NoError(t, err)

	got, err := env.Engine.SearchContacts(env.Ctx, env.Scope, "ACME")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Jane Doe", got[0].Name)
	got, err = env.Engine.SearchContacts(env.Ctx, env.Scope, "")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	updated, err := env.Engine.UpdateContact(env.Ctx, env.Scope, c.ID, domain.ContactPatch{Phone: ptr("555-0100")})
	require.NoError(t, err)
	assert.Equal(t, "555-0100", updated.Phone)
	assert.Equal(t, "Acme", updated.Company)
	_, err = env.Engine.UpdateContact(env.Ctx, env.Scope, c.ID, domain.ContactPatch{Name: ptr(" ")})
	assert.ErrorIs(t, err, engine.ErrValidation)

	require.NoError(t, env.Engine.DeleteContact(env.Ctx, env.Scope, c.ID))
	_, err = env.Engine.GetContact(env.Ctx, env.Scope, c.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestNamelessRecordsAreStored(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.AddContact(env.Ctx, env.Scope, domain.Contact{Company: "Acme Corp", Email: "info@acme.com"})
	require.NoError(t, err)
	assert.Empty(t, c.Name)
	assert.Equal(t, "2024-01-01", c.LastContacted)

	p, err := env.Engine.AddProject(env.Ctx, env.Scope, domain.Project{Name: "  ", Client: "Acme"})
	require.NoError(t, err)
	assert.Empty(t, p.Name)
	assert.Equal(t, "2024-01-01", p.StartDate)
	assert.NotNil(t, p.Tasks)

	contacts, err := env.Engine.ListContacts(env.Ctx, env.Scope)
	require.NoError(t, err)
	assert.Len(t, contacts, 1)
	projects, err := env.Engine.ListProjects(env.Ctx, env.Scope)
	require.NoError(t, err)
	assert.Len(t, projects, 1)
}

func TestScopesAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.AddContact(env.Ctx, env.Scope, domain.Contact{Name: "Mine"})
	require.NoError(t, err)
	other, err := env.Engine.ListContacts(env.Ctx, env.Engine.Scope("user-2"))
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestUpdateDealKeepsUnpatchedFields(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.Engine.AddDeal(env.Ctx, env.Scope, domain.Deal{Name: "Acme Project", Value: 5000, Probability: 40, ExpectedCloseDate: "2024-03-01"})
	require.NoError(t, err)
	assert.Equal(t, domain.StageInitialContact, d.Stage)

	d, err = env.Engine.UpdateDeal(env.Ctx, env.Scope, d.ID, domain.DealPatch{Stage: ptr(domain.StageProposalSent), Probability: ptr(0.0)})
	require.NoError(t, err)
	stored, err := env.Engine.GetDeal(env.Ctx, env.Scope, d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageProposalSent, stored.Stage)
	assert.Zero(t, stored.Probability)
	assert.Equal(t, 5000.0, stored.Value)
	assert.Equal(t, "2024-03-01", stored.ExpectedCloseDate)

	_, err = env.Engine.UpdateDeal(env.Ctx, env.Scope, d.ID, domain.DealPatch{Stage: ptr("Lost")})
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestMoveDealTransitions(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.Engine.AddDeal(env.Ctx, env.Scope, domain.Deal{Name: "Board"})
	require.NoError(t, err)
	// skipping forward is rejected
	_, err = env.Engine.MoveDeal(env.Ctx, env.Scope, d.ID, domain.StageMeetingHeld)
	assert.ErrorIs(t, err, engine.ErrInvalidStageTransition)
	for _, stage := range []string{domain.StageMeetingScheduled, domain.StageMeetingHeld, domain.StageInitialContact, domain.StageWon} {
		d, err = env.Engine.MoveDeal(env.Ctx, env.Scope, d.ID, stage)
		require.NoError(t, err, "move to %s", stage)
		assert.Equal(t, stage, d.Stage)
	}

	cases := []struct {
		from, to string
		ok       bool
	}{
		{domain.StageInitialContact, domain.StageMeetingScheduled, true},
		{domain.StageInitialContact, domain.StageProposalSent, false},
		{domain.StageProposalSent, domain.StageInitialContact, true},
		{domain.StageMeetingHeld, domain.StageWon, true},
		{domain.StageMeetingHeld, domain.StageMeetingHeld, false},
		{domain.StageWon, "nowhere", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, engine.CanMove(tc.from, tc.to), "CanMove(%q, %q)", tc.from, tc.to)
	}
}

func TestBoardGroupsByStage(t *testing.T) {
	cols := engine.Board([]domain.Deal{
		{Name: "a", Stage: domain.StageWon, Value: 10},
		{Name: "b", Stage: domain.StageInitialContact, Value: 5},
		{Name: "c", Stage: domain.StageWon, Value: 1},
		{Name: "d", Stage: "Archived"},
	})
	require.Len(t, cols, len(domain.PipelineStages))
	assert.Equal(t, domain.StageInitialContact, cols[0].Stage)
	assert.Len(t, cols[0].Deals, 1)
	won := cols[len(cols)-1]
	assert.Len(t, won.Deals, 2)
	assert.Equal(t, 11.0, won.Value)
}

func TestProjectTasks(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.AddProject(env.Ctx, env.Scope, domain.Project{Name: "Website Redesign", Client: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", p.StartDate)
	assert.Equal(t, "2024-01-01", p.EndDate)
	assert.Zero(t, p.Progress)
	assert.NotNil(t, p.Tasks)

	first, err := env.Engine.AddTask(env.Ctx, env.Scope, p.ID, "Wireframes")
	require.NoError(t, err)
	second, err := env.Engine.AddTask(env.Ctx, env.Scope, p.ID, "Copy")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.False(t, first.Completed)
	_, err = env.Engine.AddTask(env.Ctx, env.Scope, p.ID, "")
	assert.ErrorIs(t, err, engine.ErrValidation)

	toggled, err := env.Engine.ToggleTask(env.Ctx, env.Scope, p.ID, first.ID)
	require.NoError(t, err)
	assert.True(t, toggled.Completed)
	require.NoError(t, env.Engine.DeleteTask(env.Ctx, env.Scope, p.ID, second.ID))

	got, err := env.Engine.GetProject(env.Ctx, env.Scope, p.ID)
	require.NoError(t, err)
	require.Len(t, got.Tasks, 1)
	assert.Equal(t, first.ID, got.Tasks[0].ID)
	assert.True(t, got.Tasks[0].Completed)

	_, err = env.Engine.ToggleTask(env.Ctx, env.Scope, p.ID, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestSettingsMerge(t *testing.T) {
	env := newTestEnv(t)
	n, err := env.Engine.GetNotifications(env.Ctx, env.Scope)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationPrefs{}, n)

	require.NoError(t, env.Engine.SaveProfile(env.Ctx, env.Scope, domain.Profile{FirstName: "Ada", Email: "ada@example.com"}))
	err = env.Engine.SaveProfile(env.Ctx, env.Scope, domain.Profile{FirstName: "Ada", Email: "not an email"})
	assert.ErrorIs(t, err, engine.ErrValidation)
	require.NoError(t, env.Engine.SaveNotifications(env.Ctx, env.Scope, domain.NotificationPrefs{WeeklyReports: true}))

	p, err := env.Engine.GetProfile(env.Ctx, env.Scope)
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.FirstName)
	assert.Equal(t, "ada@example.com", p.Email)
	n, err = env.Engine.GetNotifications(env.Ctx, env.Scope)
	require.NoError(t, err)
	assert.True(t, n.WeeklyReports)
	assert.False(t, n.DealReminders)
}

func TestBuildDashboard(t *testing.T) {
	contacts := []domain.Contact{{Name: "Old", LastContacted: "2023-01-01"}, {Name: "Undated"}}
	deals := []domain.Deal{
		{Name: "Late", Stage: domain.StageProposalSent, Value: 100, ExpectedCloseDate: "2024-06-01"},
		{Name: "Soon", Stage: domain.StageInitialContact, Value: 50, ExpectedCloseDate: "2024-02-01"},
		{Name: "Closed", Stage: domain.StageWon, Value: 999, ExpectedCloseDate: "2024-09-01"},
		{Name: "Open", Stage: domain.StageMeetingHeld, Value: 25},
		{Name: "Mid", Stage: domain.StageMeetingScheduled, Value: 25, ExpectedCloseDate: "2024-04-01"},
	}
	projects := []domain.Project{{Name: "Build", Client: "Acme", StartDate: "2024-05-01"}}

	d := engine.BuildDashboard(contacts, deals, projects)
	assert.Equal(t, 2, d.TotalContacts)
	assert.Equal(t, 4, d.ActiveDeals)
	assert.Equal(t, 1, d.ClosedDeals)
	assert.Equal(t, 200.0, d.PipelineValue)

	var names []string
	for _, a := range d.RecentActivity {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"Closed", "Late", "Build", "Mid", "Soon"}, names)
	assert.Equal(t, "Acme", d.RecentActivity[2].Client)
	assert.Equal(t, domain.StageProposalSent, d.RecentActivity[1].Stage)

	var upcoming []string
	for _, u := range d.UpcomingDeals {
		upcoming = append(upcoming, u.Name)
	}
	assert.Equal(t, []string{"Soon", "Mid", "Late"}, upcoming)

	empty := engine.BuildDashboard(nil, nil, nil)
	assert.NotNil(t, empty.RecentActivity)
	assert.NotNil(t, empty.UpcomingDeals)
}

func TestBoundActions(t *testing.T) {
	env := newTestEnv(t)
	b := engine.Bind(env.Engine, env.Scope)
	p, err := b.AddProject(env.Ctx, domain.Project{Name: "Audit"})
	require.NoError(t, err)
	tasks := []domain.Task{{ID: "t1", Name: "Kickoff"}}
	_, err = b.UpdateProject(env.Ctx, p.ID, domain.ProjectPatch{Tasks: &tasks})
	require.NoError(t, err)
	got, err := env.Engine.ListProjects(env.Ctx, env.Scope)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Tasks, 1)
}

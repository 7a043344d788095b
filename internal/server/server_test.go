package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jconstantine618/ai-consulting-crm/internal/assistant"
	"github.com/jconstantine618/ai-consulting-crm/internal/config"
	"github.com/jconstantine618/ai-consulting-crm/internal/db"
	"github.com/jconstantine618/ai-consulting-crm/internal/domain"
	"github.com/jconstantine618/ai-consulting-crm/internal/engine"
	"github.com/jconstantine618/ai-consulting-crm/internal/migrate"
	"github.com/jconstantine618/ai-consulting-crm/internal/recordstore"
	"github.com/jconstantine618/ai-consulting-crm/internal/session"
)

const testSecret = "test-secret"

type scriptedExtractor struct {
	mu      sync.Mutex
	replies []assistant.Extraction
}

func (s *scriptedExtractor) Extract(context.Context, assistant.Request) (assistant.Extraction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return assistant.Extraction{Intent: assistant.IntentNone, Data: map[string]any{}}, nil
	}
	next := s.replies[0]
	s.replies = s.replies[1:]
	return next, nil
}

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, ext assistant.Extractor, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err, "open db")
	require.NoError(t, migrate.Migrate(context.Background(), conn), "migrate")
	e := engine.New(recordstore.New(conn), config.Default())
	if ext == nil {
		ext = &scriptedExtractor{}
	}
	sessions := session.NewManager(e, session.Options{Extractor: ext})
	if auth.JWTSecret == "" {
		auth.JWTSecret = testSecret
	}
	handler, err := New(Config{Engine: e, Sessions: sessions, BasePath: "/v0", Auth: auth})
	require.NoError(t, err, "build handler")
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err, "listen")
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
			sessions.Close()
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	reader := bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err, "marshal body")
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err, "new request")
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err, "do request")
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err, "read body")
	return res, data
}

// decode asserts the status and unmarshals the body into v when v is not nil.
func decode(t *testing.T, res *http.Response, data []byte, status int, v any) {
	t.Helper()
	require.Equal(t, status, res.StatusCode, string(data))
	if v != nil {
		require.NoError(t, json.Unmarshal(data, v), string(data))
	}
}

func signIn(t *testing.T, srv *testServer) (string, map[string]string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/anonymous", nil, nil)
	var tok TokenResponse
	decode(t, res, data, http.StatusCreated, &tok)
	require.NotEmpty(t, tok.Token)
	require.NotEmpty(t, tok.UserID)
	return tok.UserID, map[string]string{"Authorization": "Bearer " + tok.Token}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var body struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &body), string(data))
	return body.Error.Code
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t, nil, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	decode(t, res, data, http.StatusOK, nil)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/contacts", nil, nil)
	decode(t, res, data, http.StatusUnauthorized, nil)
	assert.Equal(t, "unauthorized", errorCode(t, data))
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/contacts", nil, map[string]string{"Authorization": "Bearer nope"})
	decode(t, res, data, http.StatusUnauthorized, nil)
	assert.Equal(t, "invalid_credentials", errorCode(t, data))
	// header identity is off unless configured
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/contacts", nil, map[string]string{"X-User-Id": "dev"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	userID, headers := signIn(t, srv)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, headers)
	var me MeResponse
	decode(t, res, data, http.StatusOK, &me)
	assert.Equal(t, userID, me.UserID)
	assert.Equal(t, "jwt", me.Source)
	assert.Equal(t, "artifacts/"+config.DefaultAppID+"/users/"+userID+"/contacts", me.Collections["contacts"])
}

func TestUserHeaderWhenAllowed(t *testing.T) {
	srv, cleanup := newTestServer(t, nil, AuthConfig{AllowUserHeader: true})
	defer cleanup()
	headers := map[string]string{"X-User-Id": "dev-user"}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/contacts", map[string]any{"name": "Dev Contact"}, headers)
	decode(t, res, data, http.StatusCreated, nil)
	contacts, err := srv.Engine.ListContacts(context.Background(), srv.Engine.Scope("dev-user"))
	require.NoError(t, err)
	assert.Len(t, contacts, 1)
}

func TestContactsAreScopedPerUser(t *testing.T) {
	srv, cleanup := newTestServer(t, nil, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	_, alice := signIn(t, srv)
	_, bob := signIn(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/contacts", map[string]any{
		"name":    "Jane Doe",
		"company": "Acme",
		"email":   "jane@acme.io",
	}, alice)
	var created domain.Contact
	decode(t, res, data, http.StatusCreated, &created)
	assert.NotEmpty(t, created.ID)
	assert.NotEmpty(t, created.LastContacted)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/contacts?q=acme", nil, alice)
	var listed []domain.Contact
	decode(t, res, data, http.StatusOK, &listed)
	assert.Len(t, listed, 1)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/contacts?q=globex", nil, alice)
	decode(t, res, data, http.StatusOK, nil)
	assert.Equal(t, "[]", strings.TrimSpace(string(data)))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/contacts/"+created.ID, nil, bob)
	decode(t, res, data, http.StatusNotFound, nil)
	assert.Equal(t, "not_found", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/contacts/"+created.ID, map[string]any{"title": "CTO"}, alice)
	decode(t, res, data, http.StatusOK, nil)
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/contacts/"+created.ID, nil, alice)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
}

func TestCreateRoutesRequireName(t *testing.T) {
	srv, cleanup := newTestServer(t, nil, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	userID, headers := signIn(t, srv)

	for _, tc := range []struct {
		path string
		body map[string]any
	}{
		{"/v0/contacts", map[string]any{"name": "   "}},
		{"/v0/contacts", map[string]any{"name": "", "company": "Acme"}},
		{"/v0/projects", map[string]any{"name": "\t", "client": "Acme"}},
	} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+tc.path, tc.body, headers)
		decode(t, res, data, http.StatusUnprocessableEntity, nil)
		assert.Equal(t, "validation_failed", errorCode(t, data), tc.path)
	}

	scope := srv.Engine.Scope(userID)
	contacts, err := srv.Engine.ListContacts(context.Background(), scope)
	require.NoError(t, err)
	assert.Empty(t, contacts)
	projects, err := srv.Engine.ListProjects(context.Background(), scope)
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestDealMoveRules(t *testing.T) {
	srv, cleanup := newTestServer(t, nil, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	_, headers := signIn(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/deals", map[string]any{
		"name":  "Acme Project",
		"value": 5000,
	}, headers)
	var deal domain.Deal
	decode(t, res, data, http.StatusCreated, &deal)
	assert.Equal(t, domain.StageInitialContact, deal.Stage)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/deals/"+deal.ID+"/move", map[string]any{"stage": domain.StageProposalSent}, headers)
	decode(t, res, data, http.StatusConflict, nil)
	assert.Equal(t, "invalid_stage_transition", errorCode(t, data))
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/deals/"+deal.ID+"/move", map[string]any{"stage": domain.StageMeetingScheduled}, headers)
	decode(t, res, data, http.StatusOK, nil)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/pipeline", nil, headers)
	var board []engine.BoardColumn
	decode(t, res, data, http.StatusOK, &board)
	require.Len(t, board, len(domain.PipelineStages))
	assert.Len(t, board[1].Deals, 1)
	assert.Equal(t, 5000.0, board[1].Value)

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/deals/"+deal.ID, map[string]any{"probability": 150}, headers)
	decode(t, res, data, http.StatusUnprocessableEntity, nil)
}

func TestProjectTasks(t *testing.T) {
	srv, cleanup := newTestServer(t, nil, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	_, headers := signIn(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{"name": "Website Redesign", "client": "Acme"}, headers)
	var project domain.Project
	decode(t, res, data, http.StatusCreated, &project)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+project.ID+"/tasks", map[string]any{"name": "Draft sitemap"}, headers)
	var task domain.Task
	decode(t, res, data, http.StatusCreated, &task)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/"+project.ID+"/tasks/"+task.ID+"/toggle", nil, headers)
	decode(t, res, data, http.StatusOK, &task)
	assert.True(t, task.Completed)

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/projects/"+project.ID+"/tasks/missing", nil, headers)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/dashboard", nil, headers)
	var dash engine.Dashboard
	decode(t, res, data, http.StatusOK, &dash)
	require.Len(t, dash.RecentActivity, 1)
	assert.Equal(t, "project", dash.RecentActivity[0].Type)
}

func TestSettingsRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t, nil, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	_, headers := signIn(t, srv)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/settings/notifications", nil, headers)
	decode(t, res, data, http.StatusOK, nil)
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/settings/profile", map[string]any{"firstName": "Ada", "email": "not-an-email"}, headers)
	decode(t, res, data, http.StatusUnprocessableEntity, nil)
	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/settings/profile", map[string]any{"firstName": "Ada", "email": "ada@example.com"}, headers)
	decode(t, res, data, http.StatusOK, nil)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/settings/profile", nil, headers)
	var profile domain.Profile
	decode(t, res, data, http.StatusOK, &profile)
	assert.Equal(t, "Ada", profile.FirstName)
}

func TestChatConfirmsBeforeWriting(t *testing.T) {
	ext := &scriptedExtractor{replies: []assistant.Extraction{{
		Intent:              assistant.IntentAddContact,
		Data:                map[string]any{"name": "John Doe", "company": "Acme Corp"},
		ConfirmationMessage: "Add John Doe from Acme Corp?",
	}}}
	srv, cleanup := newTestServer(t, ext, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	userID, headers := signIn(t, srv)
	scope := srv.Engine.Scope(userID)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/chat", nil, headers)
	var chat ChatResponse
	decode(t, res, data, http.StatusOK, &chat)
	assert.Len(t, chat.Transcript, 1)
	assert.Equal(t, assistant.StateIdle, chat.State)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/chat/messages", map[string]any{"text": "Add John Doe from Acme Corp"}, headers)
	var reply ChatReplyResponse
	decode(t, res, data, http.StatusOK, &reply)
	assert.Equal(t, assistant.StateAwaitingConfirmation, reply.State)
	assert.NotNil(t, reply.Draft)
	contacts, err := srv.Engine.ListContacts(context.Background(), scope)
	require.NoError(t, err)
	assert.Empty(t, contacts, "contact written before confirmation")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/chat/messages", map[string]any{"text": "yes"}, headers)
	decode(t, res, data, http.StatusOK, &reply)
	assert.Equal(t, `Contact "John Doe" added successfully!`, reply.Reply.Turn.Text)
	contacts, err = srv.Engine.ListContacts(context.Background(), scope)
	require.NoError(t, err)
	assert.Len(t, contacts, 1)

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/chat", nil, headers)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/chat", nil, headers)
	chat = ChatResponse{}
	decode(t, res, data, http.StatusOK, &chat)
	assert.Len(t, chat.Transcript, 1, "greeting only after reset")
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t, nil, AuthConfig{})
	defer cleanup()
	client := srv.Client()
	_, headers := signIn(t, srv)
	_, other := signIn(t, srv)

	for _, name := range []string{"A", "B", "C"} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/contacts", map[string]any{"name": name}, headers)
		decode(t, res, data, http.StatusCreated, nil)
	}
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/contacts", map[string]any{"name": "Other"}, other)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?limit=2", nil, headers)
	var page paginatedEvents
	decode(t, res, data, http.StatusOK, &page)
	require.Len(t, page.Items, 2)
	assert.NotEmpty(t, page.NextCursor)
	assert.Equal(t, domain.KindContacts, page.Items[0].EntityKind)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?limit=2&cursor="+page.NextCursor, nil, headers)
	page = paginatedEvents{}
	decode(t, res, data, http.StatusOK, &page)
	assert.Len(t, page.Items, 1)
	assert.Empty(t, page.NextCursor)

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?cursor=abc", nil, headers)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestSubscribeStreamsSnapshots(t *testing.T) {
	srv, cleanup := newTestServer(t, nil, AuthConfig{})
	defer cleanup()
	_, headers := signIn(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v0/subscribe/deals", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", headers["Authorization"])
	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	frames := make(chan SnapshotEvent, 4)
	go func() {
		defer close(frames)
		scanner := bufio.NewScanner(res.Body)
		event := ""
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:") && event == "snapshot":
				var snap SnapshotEvent
				if json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &snap) == nil {
					frames <- snap
				}
			}
		}
	}()

	next := func() SnapshotEvent {
		t.Helper()
		select {
		case snap, ok := <-frames:
			require.True(t, ok, "stream ended")
			return snap
		case <-time.After(5 * time.Second):
			require.FailNow(t, "timed out waiting for snapshot")
		}
		return SnapshotEvent{}
	}

	first := next()
	assert.Equal(t, domain.KindDeals, first.Kind)
	assert.Empty(t, first.Records)
	res2, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/deals", map[string]any{"name": "Streamed"}, headers)
	decode(t, res2, data, http.StatusCreated, nil)
	assert.Len(t, next().Records, 1)
	cancel()
}

func TestOpenAPIMarksPublicRoutes(t *testing.T) {
	srv, cleanup := newTestServer(t, nil, AuthConfig{})
	defer cleanup()

	// concurrent first requests share one rendered document
	bodies := make([][]byte, 8)
	var wg sync.WaitGroup
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				return
			}
			defer res.Body.Close()
			bodies[i], _ = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for i := range bodies {
		require.NotEmpty(t, bodies[i])
		assert.Equal(t, bodies[0], bodies[i])
	}

	var doc struct {
		Paths map[string]map[string]struct {
			Security []map[string][]string `json:"security"`
		} `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(bodies[0], &doc))
	assert.Empty(t, doc.Paths["/v0/auth/anonymous"]["post"].Security, "anonymous sign-in should be public")
	assert.Len(t, doc.Paths["/v0/contacts"]["get"].Security, 1, "contacts should require bearer auth")
}

func TestWebhookDeliversNewEvents(t *testing.T) {
	srv, cleanup := newTestServer(t, nil, AuthConfig{})
	defer cleanup()
	ctx := context.Background()
	scope := srv.Engine.Scope("hook-user")

	_, err := srv.Engine.AddContact(ctx, scope, domain.Contact{Name: "Before"})
	require.NoError(t, err)

	var mu sync.Mutex
	var got []webhookEvent
	var secrets []string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		got = append(got, evt)
		secrets = append(secrets, r.Header.Get("X-CRM-Secret"))
		mu.Unlock()
	}))
	defer hook.Close()

	d := NewWebhookDispatcher(srv.Engine, []config.WebhookConfig{
		{URL: hook.URL, Secret: "s3cret", Events: []string{"record.created"}},
	}, nil)
	d.DispatchAll(ctx)

	c, err := srv.Engine.AddContact(ctx, scope, domain.Contact{Name: "After"})
	require.NoError(t, err)
	_, err = srv.Engine.UpdateContact(ctx, scope, c.ID, domain.ContactPatch{Notes: ptr("vip")})
	require.NoError(t, err)
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, c.ID, got[0].EntityID)
	assert.Equal(t, "hook-user", got[0].UserID)
	assert.Equal(t, "s3cret", secrets[0])
}

func ptr[T any](v T) *T { return &v }

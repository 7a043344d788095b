package recordstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/jconstantine618/ai-consulting-crm/internal/db"
	"github.com/jconstantine618/ai-consulting-crm/internal/domain"
	"github.com/jconstantine618/ai-consulting-crm/internal/migrate"
	"github.com/jconstantine618/ai-consulting-crm/internal/recordstore"
	"github.com/jconstantine618/ai-consulting-crm/internal/repo"
)

var scope = domain.Scope{AppID: "app-1", UserID: "user-1"}

func newStore(t *testing.T, opts ...recordstore.Option) *recordstore.Store {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	ids := 0
	base := []recordstore.Option{
		recordstore.WithLogger(zaptest.NewLogger(t)),
		recordstore.WithIDGenerator(func() string {
			ids++
			return []string{"a", "b", "c", "d", "e", "f"}[ids-1]
		}),
	}
	return recordstore.New(conn, append(base, opts...)...)
}

func next(t *testing.T, ch <-chan recordstore.Snapshot) recordstore.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return recordstore.Snapshot{}
}

func ids(recs []domain.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}

func TestCreateUpdateDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, scope, domain.KindContacts, map[string]any{"id": "ignored", "name": "Ada", "company": "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	require.NoError(t, s.Update(ctx, scope, domain.KindContacts, id, map[string]any{"company": "Globex", "phone": "555"}))
	rec, err := s.Get(ctx, scope, domain.KindContacts, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Ada", "company": "Globex", "phone": "555"}, rec.Data)

	require.NoError(t, s.Delete(ctx, scope, domain.KindContacts, id))
	_, err = s.Get(ctx, scope, domain.KindContacts, id)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	assert.ErrorIs(t, s.Update(ctx, scope, domain.KindContacts, "missing", map[string]any{"x": 1}), repo.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, scope, domain.KindContacts, "missing"), repo.ErrNotFound)

	evts, err := s.Repo.LatestEvents(ctx, 10, 0, repo.EventFilter{Scope: scope})
	require.NoError(t, err)
	require.Len(t, evts, 3)
	assert.Equal(t, "record.deleted", evts[0].Type)
	assert.Equal(t, "record.updated", evts[1].Type)
	assert.Equal(t, "record.created", evts[2].Type)
}

func TestCollectionsAreScopedPerUser(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	other := domain.Scope{AppID: "app-1", UserID: "user-2"}

	_, err := s.Create(ctx, scope, domain.KindDeals, map[string]any{"name": "Mine"})
	require.NoError(t, err)
	_, err = s.Create(ctx, other, domain.KindDeals, map[string]any{"name": "Theirs"})
	require.NoError(t, err)

	mine, err := s.List(ctx, scope, domain.KindDeals)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "Mine", mine[0].Data["name"])
	assert.Equal(t, "artifacts/app-1/users/user-2/deals", other.CollectionPath(domain.KindDeals))
}

func TestValidation(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, domain.Scope{AppID: "app"}, domain.KindContacts, nil)
	assert.ErrorIs(t, err, recordstore.ErrInvalidScope)
	_, err = s.List(ctx, scope, "widgets")
	assert.ErrorIs(t, err, recordstore.ErrUnknownKind)
}

func TestSetMerges(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, scope, domain.KindSettings, domain.SettingsProfile, map[string]any{"firstName": "Ada", "bio": "math"}, true))
	require.NoError(t, s.Set(ctx, scope, domain.KindSettings, domain.SettingsProfile, map[string]any{"bio": "engines"}, true))
	rec, err := s.Get(ctx, scope, domain.KindSettings, domain.SettingsProfile)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"firstName": "Ada", "bio": "engines"}, rec.Data)

	require.NoError(t, s.Set(ctx, scope, domain.KindSettings, domain.SettingsProfile, map[string]any{"bio": "only"}, false))
	rec, err = s.Get(ctx, scope, domain.KindSettings, domain.SettingsProfile)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"bio": "only"}, rec.Data)
}

func TestSubscribeStreamsOrderedSnapshots(t *testing.T) {
	s := newStore(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx, cancel := context.WithCancel(context.Background())

	_, err := s.Create(context.Background(), scope, domain.KindProjects, map[string]any{"name": "First"})
	require.NoError(t, err)

	ch, err := s.Subscribe(ctx, scope, domain.KindProjects)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(next(t, ch).Records))

	_, err = s.Create(context.Background(), scope, domain.KindProjects, map[string]any{"name": "Second"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(next(t, ch).Records))

	_, err = s.Create(context.Background(), scope, domain.KindContacts, map[string]any{"name": "elsewhere"})
	require.NoError(t, err)
	select {
	case snap := <-ch:
		t.Fatalf("unexpected snapshot for %s", snap.Kind)
	case <-time.After(50 * time.Millisecond):
	}

	assert.Equal(t, 1, s.Subscribers())
	cancel()
	for range ch {
	}
	assert.Eventually(t, func() bool { return s.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
}

func TestSlowSubscriberSeesLatest(t *testing.T) {
	s := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Subscribe(ctx, scope, domain.KindDeals)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s.Create(context.Background(), scope, domain.KindDeals, map[string]any{"value": i})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids(next(t, ch).Records))
}

type failingNotifier struct{}

func (failingNotifier) Publish(context.Context, recordstore.Change) error {
	return errors.New("down")
}
func (failingNotifier) StartForwarder(context.Context, func(recordstore.Change)) error { return nil }
func (failingNotifier) Close() error                                                   { return nil }

func TestPublishFailureFallsBackToLocalRefresh(t *testing.T) {
	s := newStore(t, recordstore.WithNotifier(failingNotifier{}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	ch, err := s.Subscribe(ctx, scope, domain.KindContacts)
	require.NoError(t, err)
	next(t, ch)
	_, err = s.Create(context.Background(), scope, domain.KindContacts, map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Len(t, next(t, ch).Records, 1)
}

func TestRedisNotifierFansOutBetweenStores(t *testing.T) {
	mr := miniredis.RunT(t)
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, migrate.Migrate(context.Background(), conn))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	newReplica := func() *recordstore.Store {
		rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
		n := recordstore.NewRedisNotifier(rdb, recordstore.WithChannel("test:changes"))
		t.Cleanup(func() { n.Close() })
		s := recordstore.New(conn, recordstore.WithNotifier(n))
		require.NoError(t, s.Start(ctx))
		return s
	}
	writer := newReplica()
	reader := newReplica()

	ch, err := reader.Subscribe(ctx, scope, domain.KindDeals)
	require.NoError(t, err)
	assert.Empty(t, next(t, ch).Records)

	_, err = writer.Create(context.Background(), scope, domain.KindDeals, map[string]any{"name": "Big deal"})
	require.NoError(t, err)
	snap := next(t, ch)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "Big deal", snap.Records[0].Data["name"])
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := recordstore.DialRedis(context.Background(), mr.Addr())
	require.NoError(t, err)
	defer rdb.Close()

	_, err = recordstore.DialRedis(context.Background(), "")
	assert.Error(t, err)
}

package scope

import (
	"context"
	"testing"
	"time"

	"partylog/internal/app/coordinator"
	"partylog/internal/domain"
	"partylog/internal/ports"
	"partylog/internal/ports/memory"
	"partylog/internal/predicate"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) WithField(string, interface{}) runtime.Logger {
	return noopLogger{}
}
func (noopLogger) WithFields(map[string]interface{}) runtime.Logger {
	return noopLogger{}
}
func (noopLogger) Fields() map[string]interface{} {
	return nil
}

// gatedStore holds every update until release is closed.
type gatedStore struct {
	*memory.Store
	release chan struct{}
}

func (s *gatedStore) Update(ctx context.Context, userID string, entity domain.EntityType, fn ports.UpdateFunc) (domain.SubscriptionList, error) {
	<-s.release
	return s.Store.Update(ctx, userID, entity, fn)
}

func newCoordinator(t *testing.T, store ports.SubscriptionStore) *coordinator.Coordinator {
	t.Helper()
	c := coordinator.New(coordinator.Session{UserID: "u1"}, store, noopLogger{}, coordinator.Options{})
	t.Cleanup(c.Close)
	return c
}

func gamesOf(gid string) Grant {
	return Grant{Entity: domain.EntityGame, Name: gid + "Games", Predicate: predicate.EqString(domain.FieldGroupID, gid)}
}

func TestOpenWaitsForEveryGrant(t *testing.T) {
	store := memory.NewStore()
	c := newCoordinator(t, store)
	require.NoError(t, c.Start(context.Background()))
	b := NewBinder(c)

	require.NoError(t, b.Open(context.Background(), gamesOf("g1"), gamesOf("g2")))

	assert.True(t, c.HasSubscription(domain.EntityGame, "g1Games"))
	assert.True(t, c.HasSubscription(domain.EntityGame, "g2Games"))
	assert.Len(t, b.Opened(), 2)
}

func TestOpenReportsInvalidGrantButOpensTheRest(t *testing.T) {
	c := newCoordinator(t, memory.NewStore())
	b := NewBinder(c)

	err := b.Open(context.Background(), Grant{Entity: domain.EntityGame, Name: ""}, gamesOf("g1"))

	assert.ErrorIs(t, err, coordinator.ErrInvalidName)
	assert.True(t, c.HasSubscription(domain.EntityGame, "g1Games"))
	assert.Len(t, b.Opened(), 1)
}

func TestCloseQueuesBehindInFlightOpen(t *testing.T) {
	store := &gatedStore{Store: memory.NewStore(), release: make(chan struct{})}
	c := newCoordinator(t, store)
	b := NewBinder(c)

	openCtx, cancelOpen := context.WithCancel(context.Background())
	openDone := make(chan error, 1)
	go func() { openDone <- b.Open(openCtx, gamesOf("g1")) }()

	// Screen dismissed before its scope committed.
	require.Eventually(t, func() bool { return len(b.Opened()) == 1 }, time.Second, time.Millisecond)
	cancelOpen()
	closeCtx, cancelClose := context.WithCancel(context.Background())
	tickets, err := b.Close(closeCtx)
	require.NoError(t, err)
	cancelClose()

	close(store.release)
	assert.ErrorIs(t, <-openDone, context.Canceled)
	require.NoError(t, Wait(context.Background(), tickets...))

	assert.False(t, c.HasSubscription(domain.EntityGame, "g1Games"))
	assert.NotContains(t, store.Names("u1", domain.EntityGame), "g1Games")
	assert.Empty(t, b.Opened())
}

func TestCloseRemovesEachNameOnce(t *testing.T) {
	c := newCoordinator(t, memory.NewStore())
	b := NewBinder(c)
	ctx := context.Background()

	require.NoError(t, b.Open(ctx, gamesOf("g1")))
	require.NoError(t, b.Open(ctx, gamesOf("g1")))
	tickets, err := b.Close(ctx)
	require.NoError(t, err)
	assert.Len(t, tickets, 1)
	require.NoError(t, Wait(ctx, tickets...))
	assert.False(t, c.HasSubscription(domain.EntityGame, "g1Games"))
}

func TestResetForgetsEntityGrants(t *testing.T) {
	c := newCoordinator(t, memory.NewStore())
	b := NewBinder(c)
	ctx := context.Background()
	profiles := Grant{Entity: domain.EntityProfile, Name: "g1Account", Predicate: predicate.InStrings(domain.FieldOwnerID, "u1", "u2")}

	require.NoError(t, b.Open(ctx, gamesOf("g1"), profiles))
	tk, err := b.Reset(ctx, domain.EntityGame)
	require.NoError(t, err)
	require.NoError(t, tk.Wait(ctx))

	assert.False(t, c.HasSubscription(domain.EntityGame, "g1Games"))
	assert.True(t, c.HasSubscription(domain.EntityProfile, "g1Account"))
	assert.Equal(t, []Grant{profiles}, b.Opened())
}

func TestResetClearsScopesOfOtherBinders(t *testing.T) {
	c := newCoordinator(t, memory.NewStore())
	outer := NewBinder(c)
	inner := NewBinder(c)
	ctx := context.Background()

	require.NoError(t, outer.Open(ctx, gamesOf("g1")))
	require.NoError(t, inner.Open(ctx, gamesOf("g2")))
	tk, err := inner.Reset(ctx, domain.EntityGame)
	require.NoError(t, err)
	require.NoError(t, tk.Wait(ctx))

	// Reset is entity-wide: the outer binder still lists its grant but the
	// rule is gone until it opens it again.
	assert.False(t, c.HasSubscription(domain.EntityGame, "g1Games"))
	assert.False(t, c.HasSubscription(domain.EntityGame, "g2Games"))
	assert.Equal(t, []Grant{gamesOf("g1")}, outer.Opened())
	assert.Empty(t, inner.Opened())

	require.NoError(t, outer.Open(ctx, gamesOf("g1")))
	assert.True(t, c.HasSubscription(domain.EntityGame, "g1Games"))
}

func TestScopesFacade(t *testing.T) {
	c := newCoordinator(t, memory.NewStore())
	s := NewScopes(c)
	ctx := context.Background()

	require.NoError(t, s.OpenScope(ctx, domain.EntityGame, "g1Games", predicate.EqString(domain.FieldGroupID, "g1")))
	require.NoError(t, s.OpenScope(ctx, domain.EntityGame, "g2Games", predicate.EqString(domain.FieldGroupID, "g2")))
	assert.True(t, c.HasSubscription(domain.EntityGame, "g1Games"))

	require.NoError(t, s.CloseScope(ctx, domain.EntityGame, "g1Games"))
	assert.False(t, c.HasSubscription(domain.EntityGame, "g1Games"))
	require.NoError(t, s.CloseScope(ctx, domain.EntityGame, "g1Games"))

	require.NoError(t, s.ResetScope(ctx, domain.EntityGame))
	assert.False(t, c.HasSubscription(domain.EntityGame, "g2Games"))
}

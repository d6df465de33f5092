package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaoyuanzhu-com/ccsdk-gateway/db"
	"github.com/xiaoyuanzhu-com/ccsdk-gateway/engine"
)

func TestHub_GetOrCreateIsRaceFree(t *testing.T) {
	h, _ := newTestHub(t, &fakeEngine{}, time.Minute)

	const goroutines = 20
	sessions := make([]*Session, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := h.GetOrCreate("shared")
			require.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		assert.Same(t, sessions[0], sessions[i])
	}
}

func TestHub_GetOrCreateAssignsFreshID(t *testing.T) {
	h, store := newTestHub(t, &fakeEngine{}, time.Minute)

	s, err := h.GetOrCreate("")
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)

	got, ok := h.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)

	// registration persists the session row immediately
	row, err := store.GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, row.ID)
}

func TestHub_RehydratesPersistedSession(t *testing.T) {
	eng := &fakeEngine{script: func(turn int, prompt string) []engine.Event { return nil }}
	h, store := newTestHub(t, eng, time.Minute)

	_, err := store.CreateSession("old", 1000, nil)
	require.NoError(t, err)
	engineID := "eng-old"
	require.NoError(t, store.UpdateSession("old", db.SessionPatch{EngineSessionID: &engineID}))

	s, err := h.GetOrCreate("old")
	require.NoError(t, err)

	require.NoError(t, s.Submit("resume me"))
	waitFor(t, func() bool { return eng.callCount() == 1 }, "turn never started")
	assert.Equal(t, "eng-old", eng.call(0).ResumeToken)
}

func TestHub_IdleReclamation(t *testing.T) {
	h, store := newTestHub(t, &fakeEngine{}, 30*time.Millisecond)

	s, err := h.GetOrCreate("s1")
	require.NoError(t, err)

	c := NewClient()
	require.NoError(t, h.Subscribe(s, c))
	recvFrame(t, c) // session_info

	h.Unsubscribe(s, c.ID)

	waitFor(t, func() bool {
		_, ok := h.Get("s1")
		return !ok
	}, "idle session never reclaimed")

	// the persisted row survives reclamation
	row, err := store.GetSession("s1")
	require.NoError(t, err)
	assert.False(t, row.IsActive)

	// and can be rehydrated on demand
	again, err := h.GetOrCreate("s1")
	require.NoError(t, err)
	assert.NotSame(t, s, again)
}

func TestHub_ResubscribeCancelsReclamation(t *testing.T) {
	h, _ := newTestHub(t, &fakeEngine{}, 50*time.Millisecond)

	s, err := h.GetOrCreate("s1")
	require.NoError(t, err)

	c := NewClient()
	require.NoError(t, h.Subscribe(s, c))
	recvFrame(t, c) // session_info

	h.Unsubscribe(s, c.ID)

	// re-attach before the grace window elapses
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, h.Subscribe(s, c))
	recvFrame(t, c) // session_info

	time.Sleep(120 * time.Millisecond)
	_, ok := h.Get("s1")
	assert.True(t, ok, "subscribed session must not be reclaimed")
}

func TestHub_ReclaimSkipsBusySession(t *testing.T) {
	eng := &fakeEngine{blockUntilCancel: true}
	h, _ := newTestHub(t, eng, 30*time.Millisecond)

	s, err := h.GetOrCreate("s1")
	require.NoError(t, err)

	require.NoError(t, s.Submit("long running"))
	waitFor(t, func() bool { return eng.callCount() == 1 }, "turn never started")

	// the grace timer fires while a turn is in flight; session must survive
	h.scheduleIdleCheck("s1")
	time.Sleep(100 * time.Millisecond)

	_, ok := h.Get("s1")
	assert.True(t, ok, "busy session must not be reclaimed")
}

func TestHub_ListOrdersByActivity(t *testing.T) {
	h, _ := newTestHub(t, &fakeEngine{}, time.Minute)

	a, err := h.GetOrCreate("a")
	require.NoError(t, err)
	_, err = h.GetOrCreate("b")
	require.NoError(t, err)

	// touching "a" moves it to the front
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, a.Submit("hi"))
	waitFor(t, a.IsIdle, "turn never finished")

	infos := h.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].ID)
	assert.Equal(t, "b", infos[1].ID)
}

func TestHub_Remove(t *testing.T) {
	h, _ := newTestHub(t, &fakeEngine{}, time.Minute)

	s, err := h.GetOrCreate("s1")
	require.NoError(t, err)

	h.Remove("s1")

	_, ok := h.Get("s1")
	assert.False(t, ok)
	assert.ErrorIs(t, s.Submit("late"), ErrSessionGone)
}

func TestHub_Shutdown(t *testing.T) {
	store, err := db.Open(db.Config{Path: t.TempDir() + "/hub.db"})
	require.NoError(t, err)
	defer store.Close()

	h := New(store, &fakeEngine{}, Options{IdleGrace: time.Minute})
	s, err := h.GetOrCreate("s1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))

	assert.ErrorIs(t, s.Submit("after shutdown"), ErrSessionGone)
	assert.Empty(t, h.List())
}

package state_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryan-buckman/feedwatch/internal/model"
	"github.com/bryan-buckman/feedwatch/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type change struct {
	path  state.Path
	value any
}

type recorder struct {
	mu      sync.Mutex
	changes []change
}

func (r *recorder) OnChange(_ state.Mutator, p state.Path, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change{p, value})
}

func (r *recorder) paths() []state.Path {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]state.Path, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.path)
	}
	return out
}

func TestNewStoreInitialState(t *testing.T) {
	s := state.New()

	assert.Equal(t, model.FormIdle, s.Get(state.FormStatus))
	assert.Equal(t, model.FetchIdle, s.Get(state.FetchStatus))
	assert.Empty(t, s.Feeds())
	assert.Empty(t, s.Items())
	assert.Nil(t, s.Get(state.ModalItem).(*int64))
	assert.Empty(t, s.Get(state.ViewedItems).(model.IDSet))
}

func TestSetNotifiesOncePerCall(t *testing.T) {
	rec := &recorder{}
	s := state.New(rec)

	require.NoError(t, s.Set(state.FormStatus, model.FormValidating))
	require.NoError(t, s.Set(state.FormStatus, model.FormValidating))
	require.NoError(t, s.Set(state.Feeds, []model.Feed{{ID: 1, Link: "https://a.example/rss"}}))

	assert.Equal(t, []state.Path{state.FormStatus, state.FormStatus, state.Feeds}, rec.paths())
	assert.Equal(t, model.FormValidating, rec.changes[0].value)
}

func TestValueVisibleInsideCallback(t *testing.T) {
	var seen any
	s := state.New(state.SubscriberFunc(func(m state.Mutator, p state.Path, _ any) {
		seen = m.Get(p)
	}))

	require.NoError(t, s.Set(state.FetchStatus, model.FetchFetching))
	assert.Equal(t, model.FetchFetching, seen)
}

func TestReentrantSetFromCallback(t *testing.T) {
	rec := &recorder{}
	reentrant := state.SubscriberFunc(func(m state.Mutator, p state.Path, value any) {
		if p == state.FormStatus && value == model.FormUpdated {
			require.NoError(t, m.Set(state.FormMessage, model.FormMessage{Key: model.MessageSuccess, Kind: model.MessageKindSuccess}))
		}
	})
	s := state.New(reentrant, rec)

	require.NoError(t, s.Set(state.FormStatus, model.FormUpdated))

	// The nested mutation is delivered before the outer call returns.
	assert.ElementsMatch(t, []state.Path{state.FormMessage, state.FormStatus}, rec.paths())
	assert.Equal(t, model.FormMessage{Key: model.MessageSuccess, Kind: model.MessageKindSuccess}, s.Get(state.FormMessage))
}

func TestSetRejectsWrongType(t *testing.T) {
	rec := &recorder{}
	s := state.New(rec)

	err := s.Set(state.FormStatus, "updated")
	assert.ErrorIs(t, err, state.ErrTypeMismatch)

	err = s.Set(state.Path("data.nope"), 1)
	assert.ErrorIs(t, err, state.ErrUnknownPath)

	assert.Empty(t, rec.paths())
	assert.Equal(t, model.FormIdle, s.Get(state.FormStatus))
}

func TestUpdateFailureLeavesStateUntouched(t *testing.T) {
	rec := &recorder{}
	s := state.New(rec)
	require.NoError(t, s.Set(state.Items, []model.Item{{ID: 1, Link: "a"}}))

	boom := errors.New("boom")
	err := s.Update(state.Items, func(any) (any, error) { return nil, boom })

	assert.ErrorIs(t, err, boom)
	assert.Len(t, s.Items(), 1)
	assert.Equal(t, []state.Path{state.Items}, rec.paths())
}

func TestUpdateAppendsAtomically(t *testing.T) {
	s := state.New()

	for i := int64(1); i <= 3; i++ {
		id := i
		err := s.Update(state.Items, func(old any) (any, error) {
			return append(old.([]model.Item), model.Item{ID: id}), nil
		})
		require.NoError(t, err)
	}

	items := s.Items()
	require.Len(t, items, 3)
	assert.Equal(t, int64(3), items[2].ID)
}

func TestGetReturnsCopies(t *testing.T) {
	s := state.New()
	require.NoError(t, s.Set(state.Feeds, []model.Feed{{ID: 1, Title: "one"}}))

	feeds := s.Feeds()
	feeds[0].Title = "mutated"

	assert.Equal(t, "one", s.Feeds()[0].Title)
}

func TestModalItemAcceptsNil(t *testing.T) {
	s := state.New()
	id := int64(7)

	require.NoError(t, s.Set(state.ModalItem, &id))
	assert.Equal(t, int64(7), *s.Get(state.ModalItem).(*int64))

	require.NoError(t, s.Set(state.ModalItem, nil))
	assert.Nil(t, s.Get(state.ModalItem).(*int64))
}

func TestConcurrentSetsDoNotInterleave(t *testing.T) {
	var active, overlaps atomic.Int32
	s := state.New(state.SubscriberFunc(func(state.Mutator, state.Path, any) {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Set(state.FetchStatus, model.FetchFetching)
		}()
	}
	wg.Wait()

	assert.Zero(t, overlaps.Load())
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := state.New()
	require.NoError(t, s.Set(state.ViewedItems, model.IDSet{1: {}}))

	snap := s.Snapshot()
	snap.UI.ViewedItemIDs[2] = struct{}{}

	assert.False(t, s.Get(state.ViewedItems).(model.IDSet).Has(2))
}

package favorites

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/celerix-dev/celerix-favorites/pkg/bridge"
	"github.com/celerix-dev/celerix-favorites/pkg/favset"
	"github.com/celerix-dev/celerix-favorites/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStorage is a shared in-memory key with a change channel, standing in for
// a store several managers write to.
type memStorage struct {
	mu      sync.Mutex
	items   []any
	saves   [][]string
	loadErr error

	chMu     sync.Mutex
	handlers []func(bridge.Change)
}

func (s *memStorage) Load(ctx context.Context) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return append([]any(nil), s.items...), nil
}

func (s *memStorage) Save(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, ids)
	s.items = make([]any, len(ids))
	for i, id := range ids {
		s.items[i] = id
	}
	return nil
}

func (s *memStorage) Subscribe(fn func(bridge.Change)) (func(), error) {
	s.chMu.Lock()
	defer s.chMu.Unlock()
	s.handlers = append(s.handlers, fn)
	idx := len(s.handlers) - 1
	return func() {
		s.chMu.Lock()
		defer s.chMu.Unlock()
		s.handlers[idx] = nil
	}, nil
}

// writeExternal simulates another context persisting ids and the platform
// announcing it.
func (s *memStorage) writeExternal(key string, ids ...any) {
	s.mu.Lock()
	s.items = ids
	s.mu.Unlock()
	s.announce(bridge.Change{Key: key, Value: ids})
}

func (s *memStorage) announce(c bridge.Change) {
	s.chMu.Lock()
	hs := slices.Clone(s.handlers)
	s.chMu.Unlock()
	for _, h := range hs {
		if h != nil {
			h(c)
		}
	}
}

func (s *memStorage) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func (s *memStorage) lastSave() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return nil
	}
	return s.saves[len(s.saves)-1]
}

type recorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recorder) listen(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) types() []NotificationType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NotificationType, len(r.notes))
	for i, n := range r.notes {
		out[i] = n.Type
	}
	return out
}

func (r *recorder) last() Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notes[len(r.notes)-1]
}

type recordingPublisher struct {
	mu   sync.Mutex
	envs []schema.Envelope
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, env schema.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
	return p.err
}

func immediateOptions() Options {
	opts := DefaultOptions()
	opts.SaveDebounce = 0
	return opts
}

func newManager(t *testing.T, st bridge.Storage, opts Options) *Manager {
	t.Helper()
	m, err := New(st, opts)
	require.NoError(t, err)
	t.Cleanup(m.Destroy)
	return m
}

func TestNew_RequiresStorage(t *testing.T) {
	_, err := New(nil, DefaultOptions())
	assert.ErrorIs(t, err, ErrStorageRequired)

	opts := DefaultOptions()
	opts.Overflow = "lru"
	_, err = New(&memStorage{}, opts)
	assert.Error(t, err)
}

func TestNew_InitialSeedIsNotPersisted(t *testing.T) {
	st := &memStorage{}
	opts := immediateOptions()
	opts.Initial = []any{"A", "B"}
	m := newManager(t, st, opts)

	assert.Equal(t, []string{"A", "B"}, m.All())
	assert.Equal(t, 0, st.saveCount())
}

func TestMutations_NotifyAndSave(t *testing.T) {
	st := &memStorage{}
	m := newManager(t, st, immediateOptions())
	rec := &recorder{}
	m.Subscribe(rec.listen, false)

	assert.True(t, m.Add("A").OK)
	assert.Equal(t, favset.ReasonExists, m.Add("A").Reason)
	assert.True(t, m.Add(map[string]any{"productId": "B"}).OK)
	assert.True(t, m.Remove("A").OK)
	assert.Equal(t, favset.ReasonNotFound, m.Remove("A").Reason)
	assert.True(t, m.Clear().OK)
	assert.Equal(t, favset.ReasonAlreadyEmpty, m.Clear().Reason)

	assert.Equal(t, []NotificationType{TypeAdd, TypeAdd, TypeRemove, TypeClear}, rec.types())
	assert.Equal(t, 4, st.saveCount())
	assert.Empty(t, st.lastSave())
}

func TestNotification_CarriesList(t *testing.T) {
	m := newManager(t, &memStorage{}, immediateOptions())
	rec := &recorder{}
	m.Subscribe(rec.listen, false)

	m.Add("A")
	m.Add("B")

	last := rec.last()
	assert.Equal(t, TypeAdd, last.Type)
	assert.Equal(t, "B", last.ID)
	assert.Equal(t, []string{"A", "B"}, last.List)
	assert.Equal(t, 2, last.Count)
}

func TestLimit_EmitsLimitWithoutSaving(t *testing.T) {
	st := &memStorage{}
	opts := immediateOptions()
	opts.Max = 2
	m := newManager(t, st, opts)
	rec := &recorder{}
	m.Subscribe(rec.listen, false)

	m.Add("A")
	m.Add("B")
	out := m.Add("C")

	assert.Equal(t, favset.ReasonLimitReached, out.Reason)
	assert.Equal(t, []string{"A", "B"}, m.All())
	assert.Equal(t, TypeLimit, rec.last().Type)
	assert.Equal(t, "C", rec.last().ID)
	assert.Equal(t, 2, st.saveCount())
}

func TestDropOldest(t *testing.T) {
	opts := immediateOptions()
	opts.Max = 2
	opts.Overflow = favset.PolicyDropOldest
	m := newManager(t, &memStorage{}, opts)

	m.Add("A")
	m.Add("B")
	out := m.Add("C")

	assert.True(t, out.OK)
	assert.Equal(t, "A", out.Evicted)
	assert.Equal(t, []string{"B", "C"}, m.All())
}

func TestToggle(t *testing.T) {
	m := newManager(t, &memStorage{}, immediateOptions())
	rec := &recorder{}
	m.Subscribe(rec.listen, false)

	out := m.Toggle("X")
	assert.True(t, out.OK)
	assert.Equal(t, favset.ActionAdd, out.Action)

	out = m.Toggle("X")
	assert.True(t, out.OK)
	assert.Equal(t, favset.ActionRemove, out.Action)

	assert.Zero(t, m.Count())
	assert.Equal(t, []NotificationType{TypeAdd, TypeRemove}, rec.types())
}

func TestImport(t *testing.T) {
	st := &memStorage{}
	m := newManager(t, st, immediateOptions())
	rec := &recorder{}
	m.Subscribe(rec.listen, false)

	res := m.Import([]any{"A", "B", "A"}, false)
	assert.True(t, res.Changed)
	assert.Equal(t, []string{"A", "B"}, res.List)

	// Round trip through export leaves the set unchanged.
	items := []any{}
	for id := range m.Items() {
		items = append(items, id)
	}
	res = m.Import(items, true)
	assert.False(t, res.Changed)
	assert.Equal(t, []string{"A", "B"}, m.All())

	assert.Equal(t, []NotificationType{TypeImport}, rec.types())
	assert.Equal(t, 1, st.saveCount())
}

func TestLoad_TruncatesAndHeals(t *testing.T) {
	st := &memStorage{items: []any{"A", "B", "C", "D"}}
	opts := immediateOptions()
	opts.Max = 2
	m := newManager(t, st, opts)
	rec := &recorder{}
	m.Subscribe(rec.listen, false)

	list := m.Load(context.Background())

	assert.Equal(t, []string{"C", "D"}, list)
	assert.Equal(t, []string{"C", "D"}, st.lastSave())
	assert.Equal(t, TypeLoad, rec.last().Type)
}

func TestLoad_FailureKeepsRunning(t *testing.T) {
	st := &memStorage{loadErr: errors.New("corrupted")}
	m := newManager(t, st, immediateOptions())

	assert.Empty(t, m.Load(context.Background()))
	assert.True(t, m.Add("A").OK)
}

func TestTryLoad_FailureKeepsState(t *testing.T) {
	st := &memStorage{items: []any{"A", "B"}}
	m := newManager(t, st, immediateOptions())
	require.Equal(t, []string{"A", "B"}, m.Load(context.Background()))

	rec := &recorder{}
	m.Subscribe(rec.listen, false)
	st.mu.Lock()
	st.loadErr = errors.New("corrupted")
	st.mu.Unlock()

	list, err := m.TryLoad(context.Background())
	require.Error(t, err)
	assert.Nil(t, list)
	assert.Equal(t, []string{"A", "B"}, m.All())
	assert.Empty(t, rec.types())
	assert.Zero(t, st.saveCount())
}

func TestTryLoad(t *testing.T) {
	st := &memStorage{items: []any{"A", "B"}}
	m := newManager(t, st, immediateOptions())

	list, err := m.TryLoad(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, list)
}

func TestDebounce_ThreeAddsOneWrite(t *testing.T) {
	st := &memStorage{}
	opts := DefaultOptions()
	opts.SaveDebounce = 40 * time.Millisecond
	m := newManager(t, st, opts)

	m.Add("A")
	m.Add("B")
	m.Add("C")

	require.Eventually(t, func() bool { return st.saveCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, st.saveCount())
	assert.Equal(t, []string{"A", "B", "C"}, st.lastSave())
}

func TestReconcile_ExternalChange(t *testing.T) {
	st := &memStorage{items: []any{"A", "B"}}
	opts := immediateOptions()
	opts.Sync = true
	opts.Channel = st
	m := newManager(t, st, opts)
	m.Load(context.Background())

	rec := &recorder{}
	m.Subscribe(rec.listen, false)

	st.writeExternal(DefaultKey, "B", "C")

	assert.Equal(t, []string{"B", "C"}, m.All())
	assert.Equal(t, []NotificationType{TypeLoad, TypeSync}, rec.types())
	assert.Equal(t, []string{"B", "C"}, rec.last().List)
}

func TestReconcile_NoChangeNoSync(t *testing.T) {
	st := &memStorage{items: []any{"A"}}
	opts := immediateOptions()
	opts.Sync = true
	opts.Channel = st
	m := newManager(t, st, opts)
	m.Load(context.Background())
	rec := &recorder{}
	m.Subscribe(rec.listen, false)

	st.writeExternal(DefaultKey, "A")
	st.announce(bridge.Change{Key: "someone-else"})

	assert.NotContains(t, rec.types(), TypeSync)
}

func TestReconcile_ChannelErrorForcesSync(t *testing.T) {
	st := &memStorage{items: []any{"A"}}
	opts := immediateOptions()
	opts.Sync = true
	opts.Channel = st
	m := newManager(t, st, opts)
	m.Load(context.Background())
	rec := &recorder{}
	m.Subscribe(rec.listen, false)

	st.announce(bridge.Change{Err: errors.New("watch lost")})

	assert.Equal(t, TypeSync, rec.last().Type)
}

func TestReconcile_CancelsStalePendingSave(t *testing.T) {
	st := &memStorage{}
	opts := DefaultOptions()
	opts.SaveDebounce = 30 * time.Millisecond
	opts.Sync = true
	opts.Channel = st
	m := newManager(t, st, opts)

	m.Add("local")
	st.writeExternal(DefaultKey, "remote")

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, st.saveCount())
	assert.Equal(t, []string{"remote"}, m.All())
}

func TestSync_DisabledIgnoresChannel(t *testing.T) {
	st := &memStorage{}
	opts := immediateOptions()
	opts.Channel = st
	m := newManager(t, st, opts)

	st.writeExternal(DefaultKey, "X")
	assert.Empty(t, m.All())
}

func TestSubscribe_ImmediateAndUnsubscribe(t *testing.T) {
	m := newManager(t, &memStorage{}, immediateOptions())
	m.Add("A")

	rec := &recorder{}
	unsubscribe := m.Subscribe(rec.listen, true)
	require.Len(t, rec.types(), 1)
	assert.Equal(t, Notification{Type: TypeLoad, List: []string{"A"}, Count: 1}, rec.last())

	unsubscribe()
	unsubscribe()
	m.Add("B")
	assert.Len(t, rec.types(), 1)
}

func TestSubscribe_PanickingListenerIsolated(t *testing.T) {
	m := newManager(t, &memStorage{}, immediateOptions())
	var order []string
	m.Subscribe(func(Notification) { order = append(order, "first") }, false)
	m.Subscribe(func(Notification) { panic("boom") }, false)
	m.Subscribe(func(Notification) { order = append(order, "third") }, false)

	assert.NotPanics(t, func() { m.Add("A") })
	assert.Equal(t, []string{"first", "third"}, order)
}

func TestSubscribe_ListenerMayCallBack(t *testing.T) {
	m := newManager(t, &memStorage{}, immediateOptions())
	var counts []int
	m.Subscribe(func(n Notification) { counts = append(counts, m.Count()) }, false)

	m.Add("A")
	assert.Equal(t, []int{1}, counts)
}

func TestSubscribe_ListenersOwnTheirList(t *testing.T) {
	pub := &recordingPublisher{}
	opts := immediateOptions()
	opts.Publisher = pub
	m := newManager(t, &memStorage{}, opts)

	m.Subscribe(func(n Notification) { n.List[0] = "tampered" }, false)
	rec := &recorder{}
	m.Subscribe(rec.listen, false)

	m.Import([]any{"A", "B"}, false)

	assert.Equal(t, []string{"A", "B"}, rec.last().List)
	assert.Equal(t, []string{"A", "B"}, m.All())
	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.envs, 1)
	assert.Equal(t, []string{"A", "B"}, pub.envs[0].Data.(schema.FavoritesEvent).IDs)
}

func TestSubscribe_ImmediateSnapshotComesFirst(t *testing.T) {
	m := newManager(t, &memStorage{}, immediateOptions())
	m.Add("seed")

	var wg sync.WaitGroup
	start := make(chan struct{})
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for i := range 25 {
				m.Add(fmt.Sprintf("w%d-%d", w, i))
			}
		}()
	}

	rec := &recorder{}
	close(start)
	m.Subscribe(rec.listen, true)
	wg.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.notes)
	assert.Equal(t, TypeLoad, rec.notes[0].Type)
	for i, n := range rec.notes {
		assert.Equal(t, rec.notes[0].Count+i, n.Count, "notification %d out of order", i)
	}
	assert.Equal(t, 101, rec.notes[len(rec.notes)-1].Count)
}

func TestSubscribe_ListenerMutationIsDeliveredAfter(t *testing.T) {
	pub := &recordingPublisher{}
	opts := immediateOptions()
	opts.Publisher = pub
	m := newManager(t, &memStorage{}, opts)

	var first []string
	m.Subscribe(func(n Notification) {
		first = append(first, n.ID)
		if n.ID == "A" {
			m.Add("B")
		}
	}, false)
	rec := &recorder{}
	m.Subscribe(rec.listen, false)

	m.Add("A")

	assert.Equal(t, []string{"A", "B"}, first)
	require.Len(t, rec.notes, 2)
	assert.Equal(t, "A", rec.notes[0].ID)
	assert.Equal(t, "B", rec.notes[1].ID)
	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.envs, 2)
	assert.Equal(t, "A", pub.envs[0].Data.(schema.FavoritesEvent).ID)
	assert.Equal(t, "B", pub.envs[1].Data.(schema.FavoritesEvent).ID)
}

func TestPublisher_ReceivesEnvelopes(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	opts := immediateOptions()
	opts.Publisher = pub
	opts.Source = "test"
	m := newManager(t, &memStorage{}, opts)

	m.Add("A")
	m.Clear()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.envs, 2)

	env := pub.envs[0]
	assert.Equal(t, 1, env.V)
	assert.Equal(t, "favorites.add", env.Type)
	assert.Equal(t, "test", env.Meta["source"])
	assert.NotEmpty(t, env.Meta["event_id"])
	assert.InDelta(t, time.Now().UnixMilli(), env.At, 5000)
	assert.Equal(t, schema.FavoritesEvent{ID: "A", Action: "add"}, env.Data)

	assert.Equal(t, schema.FavoritesEvent{IDs: []string{"A"}, Action: "clear"}, pub.envs[1].Data)
}

func TestDestroy(t *testing.T) {
	st := &memStorage{}
	opts := DefaultOptions()
	opts.SaveDebounce = time.Hour
	m, err := New(st, opts)
	require.NoError(t, err)
	rec := &recorder{}
	m.Subscribe(rec.listen, false)

	m.Add("A")
	m.Destroy()
	m.Destroy()

	// The pending debounced write still lands.
	assert.Equal(t, []string{"A"}, st.lastSave())

	assert.False(t, m.Add("B").OK)
	assert.False(t, m.Toggle("B").OK)
	assert.False(t, m.Import([]any{"B"}, false).OK)
	assert.Empty(t, m.Load(context.Background()))
	assert.ErrorIs(t, m.SaveNow(context.Background()), bridge.ErrDestroyed)
	assert.True(t, m.Destroyed())
	assert.Len(t, rec.types(), 1)
}

// TestConcurrentMutations checks the invariants hold under parallel callers.
func TestConcurrentMutations(t *testing.T) {
	opts := DefaultOptions()
	opts.Max = 10
	opts.Overflow = favset.PolicyDropOldest
	opts.SaveDebounce = 5 * time.Millisecond
	st := &memStorage{}
	m := newManager(t, st, opts)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := (g*31 + i) % 25
				switch i % 3 {
				case 0:
					m.Add(id)
				case 1:
					m.Toggle(id)
				case 2:
					m.Remove(id)
				}
			}
		}(g)
	}
	wg.Wait()

	all := m.All()
	assert.LessOrEqual(t, len(all), 10)
	assert.Equal(t, len(all), m.Count())

	require.NoError(t, m.SaveNow(context.Background()))
	assert.Equal(t, all, st.lastSave())
}

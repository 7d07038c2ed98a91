package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tush00nka/bbbab_sync/internal/history"
	"tush00nka/bbbab_sync/internal/model"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeRooms struct {
	mu     sync.Mutex
	bound  uint
	events chan model.Event
	sent   []model.Event
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{events: make(chan model.Event, 64)}
}

func (f *fakeRooms) Bind(chatID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bound = chatID
	return nil
}

func (f *fakeRooms) Leave() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bound = 0
	return nil
}

func (f *fakeRooms) Events() <-chan model.Event { return f.events }

func (f *fakeRooms) Send(ev model.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bound == 0 || ev.ChatID != f.bound {
		return false
	}
	f.sent = append(f.sent, ev)
	return true
}

func (f *fakeRooms) sentOfType(kind string) []model.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Event
	for _, ev := range f.sent {
		if ev.Type == kind {
			out = append(out, ev)
		}
	}
	return out
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[uint][]*history.Page // per conversation, served in order
	gate  chan struct{}            // when set, FetchPage blocks until closed
	calls []uint
}

func (f *fakeFetcher) FetchPage(ctx context.Context, conversationID uint, cursor history.Cursor, limit int) (*history.Page, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, &history.FetchError{Err: ctx.Err()}
		}
	}
	if ctx.Err() != nil {
		return nil, &history.FetchError{Err: ctx.Err()}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, conversationID)

	pages := f.pages[conversationID]
	if len(pages) == 0 {
		return &history.Page{}, nil
	}
	page := pages[0]
	f.pages[conversationID] = pages[1:]
	return page, nil
}

type fakeArchive struct {
	mu     sync.Mutex
	recent []model.Message
	saved  []model.Message
	purged []uint
}

func (f *fakeArchive) Save(ctx context.Context, msgs ...model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, msgs...)
	return nil
}

func (f *fakeArchive) LoadRecent(ctx context.Context, conversationID uint, limit int) ([]model.Message, error) {
	return f.recent, nil
}

func (f *fakeArchive) Purge(ctx context.Context, conversationID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, conversationID)
	return nil
}

type fakeCache struct {
	mu      sync.Mutex
	recent  []model.Message
	pushed  []model.Message
	cleared []uint
}

func (f *fakeCache) Push(ctx context.Context, conversationID uint, msgs ...model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, msgs...)
	return nil
}

func (f *fakeCache) Recent(ctx context.Context, conversationID uint) ([]model.Message, error) {
	return f.recent, nil
}

func (f *fakeCache) Clear(ctx context.Context, conversationID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, conversationID)
	return nil
}

func msg(id, conv, sender uint, at time.Time) model.Message {
	return model.Message{ID: id, ConversationID: conv, SenderID: sender, Content: "m", CreatedAt: at}
}

func msgIDs(msgs []model.Message) []uint {
	out := make([]uint, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestBindLoadsNewestPage(t *testing.T) {
	rooms := newFakeRooms()
	fetcher := &fakeFetcher{pages: map[uint][]*history.Page{
		1: {{Messages: []model.Message{
			msg(2, 1, 9, base.Add(2*time.Second)),
			msg(1, 1, 9, base.Add(time.Second)),
		}, HasMore: true}},
	}}

	e := NewEngine(5, fetcher, rooms, Options{PageSize: 20})
	require.NoError(t, e.Bind(context.Background(), 1))

	require.Eventually(t, func() bool {
		return len(e.Transcript()) == 2
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, []uint{1, 2}, msgIDs(e.Transcript()))
	require.True(t, e.HasMore())
	require.Equal(t, uint(1), e.ConversationID())
}

func TestSwitchAbandonsInFlightFetch(t *testing.T) {
	gate := make(chan struct{})
	rooms := newFakeRooms()
	fetcher := &fakeFetcher{
		gate: gate,
		pages: map[uint][]*history.Page{
			1: {{Messages: []model.Message{msg(10, 1, 9, base)}}},
			2: {{Messages: []model.Message{msg(20, 2, 9, base)}}},
		},
	}

	e := NewEngine(5, fetcher, rooms, Options{})

	// Bind A, then switch to B before A's page resolves.
	require.NoError(t, e.Bind(context.Background(), 1))
	require.NoError(t, e.Bind(context.Background(), 2))
	close(gate)

	require.Eventually(t, func() bool {
		return len(e.Transcript()) == 1
	}, time.Second, 5*time.Millisecond)

	// Conversation A's page must not leak into B's transcript.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, []uint{20}, msgIDs(e.Transcript()))
	for _, m := range e.Transcript() {
		require.Equal(t, uint(2), m.ConversationID)
	}
}

func TestLiveEventAppliedAndDeliveredAcked(t *testing.T) {
	rooms := newFakeRooms()
	fetcher := &fakeFetcher{pages: map[uint][]*history.Page{1: {{}}}}

	e := NewEngine(5, fetcher, rooms, Options{})
	require.NoError(t, e.Bind(context.Background(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	payload := []byte(`{"id":3,"conversation_id":1,"sender_id":9,"content":"hi","created_at":"2025-06-01T12:00:00Z"}`)
	rooms.events <- model.Event{Type: model.EventTypeMessage, ChatID: 1, Message: payload}

	require.Eventually(t, func() bool {
		return len(e.Transcript()) == 1
	}, time.Second, 5*time.Millisecond)

	// Not focused: delivered ack only, plus a local echo in the transcript.
	require.Eventually(t, func() bool {
		return len(rooms.sentOfType(model.EventTypeDeliveredReceipt)) == 1
	}, time.Second, 5*time.Millisecond)
	require.Empty(t, rooms.sentOfType(model.EventTypeReadReceipt))

	// Echo is applied after the ack goes out
	require.Eventually(t, func() bool {
		snap := e.Transcript()
		return len(snap) == 1 && snap[0].DeliveredBy.Has(5)
	}, time.Second, 5*time.Millisecond, "local echo must mark our own delivery")
}

func TestFocusEmitsSeenAcksOnce(t *testing.T) {
	rooms := newFakeRooms()
	fetcher := &fakeFetcher{pages: map[uint][]*history.Page{
		1: {{Messages: []model.Message{msg(1, 1, 9, base)}}},
	}}

	e := NewEngine(5, fetcher, rooms, Options{})
	require.NoError(t, e.Bind(context.Background(), 1))

	// Дожидаемся delivered-квитанции начальной загрузки, чтобы ее sweep
	// не пересекся с нашим Focus
	require.Eventually(t, func() bool {
		return len(rooms.sentOfType(model.EventTypeDeliveredReceipt)) == 1
	}, time.Second, 5*time.Millisecond)

	e.Focus()
	require.Len(t, rooms.sentOfType(model.EventTypeReadReceipt), 1)
	require.True(t, e.Transcript()[0].SeenBy.Has(5))

	// Second sweep: the echo already satisfied the predicate.
	e.Focus()
	require.Len(t, rooms.sentOfType(model.EventTypeReadReceipt), 1)

	rs := e.ReadState()
	require.Equal(t, uint(1), rs[5])
}

func TestOwnMessagesAreNotAcked(t *testing.T) {
	rooms := newFakeRooms()
	fetcher := &fakeFetcher{pages: map[uint][]*history.Page{
		1: {{Messages: []model.Message{msg(1, 1, 5, base)}}},
	}}

	e := NewEngine(5, fetcher, rooms, Options{})
	require.NoError(t, e.Bind(context.Background(), 1))

	require.Eventually(t, func() bool {
		return len(e.Transcript()) == 1
	}, time.Second, 5*time.Millisecond)

	e.Focus()
	require.Empty(t, rooms.sentOfType(model.EventTypeDeliveredReceipt))
	require.Empty(t, rooms.sentOfType(model.EventTypeReadReceipt))
}

func TestLoadOlderAdvancesCursor(t *testing.T) {
	older := history.Cursor{CreatedAt: base.Add(time.Second), MessageID: 1}
	rooms := newFakeRooms()
	fetcher := &fakeFetcher{pages: map[uint][]*history.Page{
		1: {
			{Messages: []model.Message{
				msg(2, 1, 9, base.Add(2*time.Second)),
				msg(1, 1, 9, base.Add(time.Second)),
			}, HasMore: true, NextCursor: older.Encode()},
			{Messages: []model.Message{
				msg(0, 1, 9, base), // rejected: zero id
			}, HasMore: false},
		},
	}}

	e := NewEngine(5, fetcher, rooms, Options{})
	require.NoError(t, e.Bind(context.Background(), 1))

	require.Eventually(t, func() bool {
		return len(e.Transcript()) == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, e.LoadOlder(context.Background()))
	require.False(t, e.HasMore())
	require.NoError(t, e.LoadOlder(context.Background()), "no-op once exhausted")

	fetcher.mu.Lock()
	calls := len(fetcher.calls)
	fetcher.mu.Unlock()
	require.Equal(t, 2, calls)
}

func TestForeignDeltaDoesNotCorruptTranscript(t *testing.T) {
	rooms := newFakeRooms()
	fetcher := &fakeFetcher{pages: map[uint][]*history.Page{1: {{}}}}

	e := NewEngine(5, fetcher, rooms, Options{})
	require.NoError(t, e.Bind(context.Background(), 1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	payload := []byte(`{"id":3,"conversation_id":9,"sender_id":9,"created_at":"2025-06-01T12:00:00Z"}`)
	rooms.events <- model.Event{Type: model.EventTypeMessage, ChatID: 9, Message: payload}
	rooms.events <- model.Event{Type: model.EventTypeTyping, ChatID: 1, UserID: 9}

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, e.Transcript())
}

func TestBindSeedsFromLocalSources(t *testing.T) {
	rooms := newFakeRooms()
	fetcher := &fakeFetcher{pages: map[uint][]*history.Page{1: {{}}}}

	archive := &fakeArchive{recent: []model.Message{msg(1, 1, 5, base)}}
	cache := &fakeCache{recent: []model.Message{msg(2, 1, 5, base.Add(time.Second))}}

	e := NewEngine(5, fetcher, rooms, Options{Archive: archive, Cache: cache})
	require.NoError(t, e.Bind(context.Background(), 1))

	// Both local sources land in the transcript before the network page.
	require.Equal(t, []uint{1, 2}, msgIDs(e.Transcript()))
}

func TestPurgeClearsArchiveAndCache(t *testing.T) {
	rooms := newFakeRooms()
	fetcher := &fakeFetcher{pages: map[uint][]*history.Page{}}

	archive := &fakeArchive{}
	cache := &fakeCache{}

	e := NewEngine(5, fetcher, rooms, Options{Archive: archive, Cache: cache})

	require.Error(t, e.Purge(context.Background(), 0))
	require.NoError(t, e.Purge(context.Background(), 7))

	archive.mu.Lock()
	require.Equal(t, []uint{7}, archive.purged)
	archive.mu.Unlock()

	cache.mu.Lock()
	require.Equal(t, []uint{7}, cache.cleared)
	cache.mu.Unlock()
}

func TestUnbind(t *testing.T) {
	rooms := newFakeRooms()
	fetcher := &fakeFetcher{pages: map[uint][]*history.Page{1: {{}}}}

	e := NewEngine(5, fetcher, rooms, Options{})
	require.NoError(t, e.Bind(context.Background(), 1))
	e.Unbind()

	require.Equal(t, uint(0), e.ConversationID())
	require.Empty(t, e.Transcript())
	require.Empty(t, e.ReadState())
	require.ErrorIs(t, e.LoadOlder(context.Background()), ErrNotBound)
}

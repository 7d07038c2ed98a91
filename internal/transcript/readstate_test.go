package transcript

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tush00nka/bbbab_sync/internal/model"
)

func TestReadStateLastSeenPerUser(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s := NewStore(1)
	m1 := msg(1, at.Add(time.Second), "a")
	m1.SeenBy = model.NewUserSet(7, 8)
	m2 := msg(2, at.Add(2*time.Second), "b")
	m2.SeenBy = model.NewUserSet(7)
	m3 := msg(3, at.Add(3*time.Second), "c")
	s.Apply(m1, m2, m3)

	rs := s.ReadState()
	require.Equal(t, map[uint]uint{7: 2, 8: 1}, rs)
}

func TestReadStateEmptyTranscript(t *testing.T) {
	require.Empty(t, ReadState(nil))
}

func TestReadStateIgnoresUserlessReceipt(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s := NewStore(1)
	s.Apply(msg(5, at, "a"))

	// Receipt event arriving without a user id must not register
	// a phantom participant 0.
	ev := model.Event{Type: model.EventTypeReadReceipt, ChatID: 1, MessageID: 5}
	if delta, ok := ev.Delta(); ok {
		s.Apply(delta)
	}

	require.Empty(t, s.ReadState())
}

func TestReadStateDeterministic(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	m1 := msg(1, at.Add(time.Second), "a")
	m1.SeenBy = model.NewUserSet(7)
	m2 := msg(2, at.Add(2*time.Second), "b")
	m2.SeenBy = model.NewUserSet(7)

	s := NewStore(1)
	s.Apply(m2)
	s.Apply(m1)

	// Arrival order must not matter: projection depends on transcript order only.
	require.Equal(t, map[uint]uint{7: 2}, s.ReadState())
}

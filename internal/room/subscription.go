package room

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/qmuntal/stateless"
	"go.uber.org/atomic"

	"tush00nka/bbbab_sync/internal/model"
)

// Состояния подписки
type SubState stateless.State

var (
	StateUnbound SubState = "Unbound"
	StateJoining SubState = "Joining"
	StateJoined  SubState = "Joined"
	StateLeaving SubState = "Leaving"
)

// Триггеры
type SubTrigger stateless.Trigger

var (
	TriggerJoin      SubTrigger = "Join"
	TriggerJoinSent  SubTrigger = "JoinSent"
	TriggerLeave     SubTrigger = "Leave"
	TriggerLeaveSent SubTrigger = "LeaveSent"
)

// ErrInvalidChatID привязка к нулевой беседе
var ErrInvalidChatID = errors.New("chatID cannot be zero")

// Signaler отправка сигналов в комнату (fire-and-forget)
type Signaler interface {
	SendJSON(v any) bool
}

// Subscription держит живой канал событий ровно одной беседы.
// Unbound → Joining → Joined → Leaving → Unbound; join считается
// успешным сразу после отправки сигнала, подтверждения не ждем.
type Subscription struct {
	mu       sync.Mutex
	fsm      *stateless.StateMachine
	signaler Signaler
	chatID   uint // привязанная беседа, 0 в Unbound
	events   chan model.Event

	Dropped  atomic.Int64 // события, не влезшие в буфер
	Filtered atomic.Int64 // события чужих бесед
}

// NewSubscription создает подписку поверх сигналера
func NewSubscription(signaler Signaler, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = maxSendChannelSize
	}

	s := &Subscription{
		signaler: signaler,
		events:   make(chan model.Event, buffer),
	}

	fsm := stateless.NewStateMachine(StateUnbound)

	fsm.Configure(StateUnbound).
		Permit(TriggerJoin, StateJoining)

	// Join отправляется на входе в Joining и сразу считается принятым
	fsm.Configure(StateJoining).
		OnEntry(func(_ context.Context, _ ...any) error {
			s.signaler.SendJSON(model.Event{
				Type:      model.EventTypeJoin,
				ChatID:    s.chatID,
				Timestamp: time.Now(),
			})
			return nil
		}).
		Permit(TriggerJoinSent, StateJoined)

	fsm.Configure(StateJoined).
		Permit(TriggerLeave, StateLeaving)

	// Leave обязан уйти до следующего Join другой беседы,
	// иначе события потекут в два транскрипта сразу
	fsm.Configure(StateLeaving).
		OnEntry(func(_ context.Context, _ ...any) error {
			s.signaler.SendJSON(model.Event{
				Type:      model.EventTypeLeave,
				ChatID:    s.chatID,
				Timestamp: time.Now(),
			})
			return nil
		}).
		Permit(TriggerLeaveSent, StateUnbound)

	s.fsm = fsm
	return s
}

// Bind присоединяет подписку к беседе; если привязана другая —
// сначала покидает ее
func (s *Subscription) Bind(chatID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if chatID == 0 {
		return ErrInvalidChatID
	}

	if s.chatID == chatID && s.fsm.MustState() == StateJoined {
		return nil
	}

	if err := s.leaveLocked(); err != nil {
		return err
	}

	s.chatID = chatID
	if err := s.fsm.Fire(TriggerJoin); err != nil {
		return err
	}
	return s.fsm.Fire(TriggerJoinSent)
}

// Leave отписывается от текущей беседы
func (s *Subscription) Leave() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaveLocked()
}

func (s *Subscription) leaveLocked() error {
	if s.fsm.MustState() != StateJoined {
		return nil
	}

	if err := s.fsm.Fire(TriggerLeave); err != nil {
		return err
	}
	if err := s.fsm.Fire(TriggerLeaveSent); err != nil {
		return err
	}

	s.chatID = 0
	return nil
}

// Dispatch принимает событие от соединения. В очередь попадают только
// события привязанной беседы в состоянии Joined; остальное — гонка
// при смене беседы, отбрасываем (вторая линия защиты — проверка id
// в самом транскрипте)
func (s *Subscription) Dispatch(ev model.Event) {
	s.mu.Lock()
	joined := s.fsm.MustState() == StateJoined
	chatID := s.chatID
	s.mu.Unlock()

	if !joined || ev.ChatID != chatID {
		s.Filtered.Inc()
		return
	}

	select {
	case s.events <- ev:
	default:
		s.Dropped.Inc()
		log.Printf("room: event buffer full, dropped %s for chat %d", ev.Type, ev.ChatID)
	}
}

// Events канал событий привязанной беседы
func (s *Subscription) Events() <-chan model.Event {
	return s.events
}

// Send отправляет исходящий сигнал (квитанции); только в Joined
// и только для привязанной беседы
func (s *Subscription) Send(ev model.Event) bool {
	s.mu.Lock()
	joined := s.fsm.MustState() == StateJoined
	chatID := s.chatID
	s.mu.Unlock()

	if !joined || ev.ChatID != chatID {
		return false
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return s.signaler.SendJSON(ev)
}

// State текущее состояние подписки
func (s *Subscription) State() SubState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SubState(s.fsm.MustState())
}

// ChatID привязанная беседа (0 — нет)
func (s *Subscription) ChatID() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatID
}

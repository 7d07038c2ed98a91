package transcript

import (
	"log"
	"slices"
	"sort"
	"sync"

	"tush00nka/bbbab_sync/internal/model"
)

// Store упорядоченный дедуплицированный вид сообщений одной беседы.
// Единственная точка мутации — Apply; страницы истории и живые события
// проходят через один и тот же код слияния, поэтому их порядок не важен.
type Store struct {
	mu             sync.RWMutex
	conversationID uint
	ordered        []*model.Message // по возрастанию (CreatedAt, ID)
	byID           map[uint]*model.Message
	subscribers    []func()
}

// NewStore создает транскрипт, привязанный к беседе.
// Экземпляр живет от bind до unbind и выбрасывается при смене беседы.
func NewStore(conversationID uint) *Store {
	return &Store{
		conversationID: conversationID,
		byID:           make(map[uint]*model.Message),
	}
}

// ConversationID привязанная беседа
func (s *Store) ConversationID() uint {
	return s.conversationID
}

// OnChange регистрирует подписчика; вызывается после каждого
// результативного Apply. Подписчик не должен держать снапшот долго.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.mu.Unlock()
}

// Apply вливает записи в транскрипт и возвращает число записей,
// реально изменивших состояние. Повторное применение той же записи
// ничего не меняет; порядок применения на итог не влияет.
//
// Записи без id или conversation_id, а также записи чужой беседы
// отбрасываются с логом — это защита от гонки при быстрой смене беседы.
func (s *Store) Apply(incoming ...model.Message) int {
	s.mu.Lock()

	applied := 0
	for i := range incoming {
		in := &incoming[i]

		if in.ID == 0 || in.ConversationID == 0 {
			log.Printf("transcript: dropped record without id/conversation (id=%d conv=%d)", in.ID, in.ConversationID)
			continue
		}
		if in.ConversationID != s.conversationID {
			log.Printf("transcript: dropped record for foreign conversation %d (bound to %d)", in.ConversationID, s.conversationID)
			continue
		}

		if existing, ok := s.byID[in.ID]; ok {
			if s.merge(existing, in) {
				applied++
			}
			continue
		}

		s.insert(in)
		applied++
	}

	var subs []func()
	if applied > 0 {
		subs = slices.Clone(s.subscribers)
	}
	s.mu.Unlock()

	// Уведомляем без блокировки: подписчик может снова вызвать Apply
	// (локальное эхо квитанций).
	for _, fn := range subs {
		fn()
	}

	return applied
}

// insert вставка с сохранением порядка (бинарный поиск, без пересортировки)
func (s *Store) insert(in *model.Message) {
	msg := in.Clone()
	pos := sort.Search(len(s.ordered), func(i int) bool {
		return !s.ordered[i].Before(&msg)
	})
	s.ordered = slices.Insert(s.ordered, pos, &msg)
	s.byID[msg.ID] = &msg
}

// merge пополевое монотонное слияние: union множеств, необратимый
// тумстоун, "заполнить только пустое" для контента. Возвращает true,
// если запись изменилась.
func (s *Store) merge(dst, in *model.Message) bool {
	changed := false

	if dst.SeenBy.Union(in.SeenBy) {
		changed = true
	}
	if dst.DeliveredBy.Union(in.DeliveredBy) {
		changed = true
	}
	if in.IsDeleted && !dst.IsDeleted {
		dst.IsDeleted = true
		changed = true
	}
	if dst.Content == "" && in.Content != "" {
		dst.Content = in.Content
		changed = true
	}
	if len(dst.Attachments) == 0 && len(in.Attachments) > 0 {
		dst.Attachments = slices.Clone(in.Attachments)
		changed = true
	}
	if dst.ReplyTo == 0 && in.ReplyTo != 0 {
		dst.ReplyTo = in.ReplyTo
		changed = true
	}
	if dst.SenderID == 0 && in.SenderID != 0 {
		dst.SenderID = in.SenderID
		changed = true
	}

	// Квитанция могла прийти раньше самого сообщения — тогда в транскрипте
	// лежит заглушка с нулевым временем. Заполняем время один раз и
	// переставляем запись на настоящую позицию.
	if dst.CreatedAt.IsZero() && !in.CreatedAt.IsZero() {
		idx := slices.Index(s.ordered, dst)
		s.ordered = slices.Delete(s.ordered, idx, idx+1)
		dst.CreatedAt = in.CreatedAt
		pos := sort.Search(len(s.ordered), func(i int) bool {
			return !s.ordered[i].Before(dst)
		})
		s.ordered = slices.Insert(s.ordered, pos, dst)
		changed = true
	}

	return changed
}

// Snapshot упорядоченная копия транскрипта
func (s *Store) Snapshot() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Message, len(s.ordered))
	for i, m := range s.ordered {
		out[i] = m.Clone()
	}
	return out
}

// Get копия сообщения по id
func (s *Store) Get(id uint) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.byID[id]
	if !ok {
		return model.Message{}, false
	}
	return m.Clone(), true
}

// Len число сообщений, включая тумстоуны
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ordered)
}

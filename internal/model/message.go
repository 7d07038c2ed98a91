package model

import (
	"encoding/json"
	"slices"
	"time"
)

// Attachment ссылка на медиа в сообщении, неизменяема после установки
type Attachment struct {
	URL      string `json:"url"`
	Kind     string `json:"kind"` // image, video, audio, file
	Filename string `json:"filename,omitempty"`
}

// Message единица транскрипта. Ключ слияния — ID.
type Message struct {
	ID             uint         `json:"id"`
	ConversationID uint         `json:"conversation_id"`
	SenderID       uint         `json:"sender_id,omitempty"`
	Content        string       `json:"content,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	ReplyTo        uint         `json:"reply_to,omitempty"` // 0 — не ответ
	CreatedAt      time.Time    `json:"created_at"`
	SeenBy         UserSet      `json:"seen_by,omitempty"`
	DeliveredBy    UserSet      `json:"delivered_by,omitempty"`
	IsDeleted      bool         `json:"is_deleted,omitempty"`
}

// Before порядок транскрипта: (CreatedAt, ID) по возрастанию
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// Clone глубокая копия для снапшотов
func (m *Message) Clone() Message {
	out := *m
	out.Attachments = slices.Clone(m.Attachments)
	out.SeenBy = m.SeenBy.Clone()
	out.DeliveredBy = m.DeliveredBy.Clone()
	return out
}

// UserSet множество идентификаторов пользователей.
// В JSON сериализуется как отсортированный массив — квитанции
// из событий и из страниц истории выглядят одинаково.
type UserSet map[uint]struct{}

func NewUserSet(ids ...uint) UserSet {
	s := make(UserSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s UserSet) Has(id uint) bool {
	_, ok := s[id]
	return ok
}

// Union добавляет все элементы other. Множество только растёт.
func (s *UserSet) Union(other UserSet) bool {
	if len(other) == 0 {
		return false
	}
	if *s == nil {
		*s = make(UserSet, len(other))
	}
	changed := false
	for id := range other {
		if _, ok := (*s)[id]; !ok {
			(*s)[id] = struct{}{}
			changed = true
		}
	}
	return changed
}

func (s UserSet) Clone() UserSet {
	if s == nil {
		return nil
	}
	out := make(UserSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// IDs отсортированный список
func (s UserSet) IDs() []uint {
	ids := make([]uint, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s UserSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.IDs())
}

func (s *UserSet) UnmarshalJSON(data []byte) error {
	var ids []uint
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewUserSet(ids...)
	return nil
}

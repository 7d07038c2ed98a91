package sync

import (
	"tush00nka/bbbab_sync/internal/model"
)

// AckEmitter сообщает серверу о получении и прочтении чужих сообщений.
// Сигналы fire-and-forget, at-least-once: дубликаты сервер и транскрипт
// поглощают объединением множеств.
type AckEmitter struct {
	userID uint
	send   func(model.Event) bool
}

func NewAckEmitter(userID uint, send func(model.Event) bool) *AckEmitter {
	return &AckEmitter{userID: userID, send: send}
}

// Sweep проходит по снапшоту и шлет недостающие квитанции.
// Возвращает локальные эхо-дельты для транскрипта: своя квитанция
// отражается сразу, не дожидаясь круга через сервер. После эха
// предикат становится ложным, поэтому повторный проход ничего не шлет.
//
// Квитанции шлются и для удаленных сообщений: тумстоун скрывает
// контент, но факт доставки/прочтения от него не зависит.
func (e *AckEmitter) Sweep(msgs []model.Message, focused bool) []model.Message {
	var echoes []model.Message

	for i := range msgs {
		m := &msgs[i]

		// Заглушку без автора подтверждать рано, авторство неизвестно
		if m.SenderID == 0 || m.SenderID == e.userID {
			continue
		}

		if !m.DeliveredBy.Has(e.userID) {
			ok := e.send(model.Event{
				Type:      model.EventTypeDeliveredReceipt,
				ChatID:    m.ConversationID,
				MessageID: m.ID,
				UserID:    e.userID,
			})
			if ok {
				echoes = append(echoes, model.Message{
					ID:             m.ID,
					ConversationID: m.ConversationID,
					DeliveredBy:    model.NewUserSet(e.userID),
				})
			}
		}

		if focused && !m.SeenBy.Has(e.userID) {
			ok := e.send(model.Event{
				Type:      model.EventTypeReadReceipt,
				ChatID:    m.ConversationID,
				MessageID: m.ID,
				UserID:    e.userID,
			})
			if ok {
				echoes = append(echoes, model.Message{
					ID:             m.ID,
					ConversationID: m.ConversationID,
					SeenBy:         model.NewUserSet(e.userID),
				})
			}
		}
	}

	return echoes
}

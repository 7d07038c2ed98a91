package model

import (
	"encoding/json"
	"log"
	"time"
)

// Типы событий комнаты
const (
	EventTypeMessage          = "message"
	EventTypeTyping           = "typing"
	EventTypeReadReceipt      = "read_receipt"
	EventTypeDeliveredReceipt = "delivered_receipt"
	EventTypeMessageDeleted   = "message_deleted"
	EventTypeJoin             = "join"
	EventTypeLeave            = "leave"
	EventTypeRoomInfo         = "room_info"
	EventTypeError            = "error"
)

// Event событие комнаты (в обе стороны).
// Сервер шлёт message/typing/read_receipt/delivered_receipt/message_deleted,
// клиент — join/leave и квитанции.
type Event struct {
	Type      string          `json:"type"`
	ChatID    uint            `json:"chat_id,omitempty"`
	UserID    uint            `json:"user_id,omitempty"`
	MessageID uint            `json:"message_id,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// Delta переводит событие в частичную запись Message для слияния.
// Возвращает false для событий без дельты транскрипта (typing и служебные).
func (ev Event) Delta() (Message, bool) {
	switch ev.Type {
	case EventTypeMessage:
		var msg Message
		if err := json.Unmarshal(ev.Message, &msg); err != nil {
			return Message{}, false
		}
		if msg.ConversationID == 0 {
			msg.ConversationID = ev.ChatID
		}
		return msg, true
	case EventTypeReadReceipt:
		// Квитанция без user_id бессмысленна: нулевой id попал бы
		// в seen_by как несуществующий участник
		if ev.UserID == 0 {
			log.Printf("model: dropped %s without user_id (message %d)", ev.Type, ev.MessageID)
			return Message{}, false
		}
		return Message{
			ID:             ev.MessageID,
			ConversationID: ev.ChatID,
			SeenBy:         NewUserSet(ev.UserID),
		}, true
	case EventTypeDeliveredReceipt:
		if ev.UserID == 0 {
			log.Printf("model: dropped %s without user_id (message %d)", ev.Type, ev.MessageID)
			return Message{}, false
		}
		return Message{
			ID:             ev.MessageID,
			ConversationID: ev.ChatID,
			DeliveredBy:    NewUserSet(ev.UserID),
		}, true
	case EventTypeMessageDeleted:
		return Message{
			ID:             ev.MessageID,
			ConversationID: ev.ChatID,
			IsDeleted:      true,
		}, true
	}
	return Message{}, false
}

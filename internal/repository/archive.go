package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tush00nka/bbbab_sync/internal/model"
)

// MessageArchive долговременное локальное хранилище применённых
// сообщений: повторная привязка беседы начинается с архива,
// а не с сети
type MessageArchive interface {
	Save(ctx context.Context, msgs ...model.Message) error
	LoadRecent(ctx context.Context, conversationID uint, limit int) ([]model.Message, error)
	Purge(ctx context.Context, conversationID uint) error
	Count(ctx context.Context, conversationID uint) (int64, error)
}

// archivedMessage строка архива; множества квитанций храним как JSON
type archivedMessage struct {
	ID             uint `gorm:"primaryKey"`
	ConversationID uint `gorm:"index:idx_conv_created"`
	SenderID       uint
	Content        string
	Attachments    []model.Attachment `gorm:"serializer:json"`
	ReplyTo        uint
	CreatedAt      time.Time `gorm:"index:idx_conv_created"`
	SeenBy         model.UserSet `gorm:"serializer:json"`
	DeliveredBy    model.UserSet `gorm:"serializer:json"`
	IsDeleted      bool
}

func (archivedMessage) TableName() string { return "messages" }

type messageArchive struct {
	db *gorm.DB
}

// NewMessageArchive создает архив и накатывает схему
func NewMessageArchive(db *gorm.DB) (MessageArchive, error) {
	if err := db.AutoMigrate(&archivedMessage{}); err != nil {
		return nil, err
	}
	return &messageArchive{db: db}, nil
}

// Save upsert по id. Пишутся уже слитые записи из транскрипта,
// поэтому перезапись строки целиком монотонность не нарушает.
func (r *messageArchive) Save(ctx context.Context, msgs ...model.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	rows := make([]archivedMessage, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		if m.ID == 0 || m.ConversationID == 0 {
			continue
		}
		rows = append(rows, archivedMessage{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			SenderID:       m.SenderID,
			Content:        m.Content,
			Attachments:    m.Attachments,
			ReplyTo:        m.ReplyTo,
			CreatedAt:      m.CreatedAt,
			SeenBy:         m.SeenBy,
			DeliveredBy:    m.DeliveredBy,
			IsDeleted:      m.IsDeleted,
		})
	}
	if len(rows) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rows).Error
}

// LoadRecent последние limit сообщений беседы; порядок не важен,
// транскрипт пересортирует при Apply
func (r *messageArchive) LoadRecent(ctx context.Context, conversationID uint, limit int) ([]model.Message, error) {
	if conversationID == 0 {
		return nil, errors.New("conversationID cannot be zero")
	}
	if limit <= 0 {
		limit = 50
	}

	var rows []archivedMessage
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	msgs := make([]model.Message, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		msgs = append(msgs, model.Message{
			ID:             row.ID,
			ConversationID: row.ConversationID,
			SenderID:       row.SenderID,
			Content:        row.Content,
			Attachments:    row.Attachments,
			ReplyTo:        row.ReplyTo,
			CreatedAt:      row.CreatedAt,
			SeenBy:         row.SeenBy,
			DeliveredBy:    row.DeliveredBy,
			IsDeleted:      row.IsDeleted,
		})
	}
	return msgs, nil
}

// Purge удаляет архив беседы
func (r *messageArchive) Purge(ctx context.Context, conversationID uint) error {
	if conversationID == 0 {
		return errors.New("conversationID cannot be zero")
	}

	return r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Delete(&archivedMessage{}).Error
}

// Count число заархивированных сообщений беседы
func (r *messageArchive) Count(ctx context.Context, conversationID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&archivedMessage{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error
	return count, err
}

package model

import "time"

// FileMetadata запись о предзагруженном вложении
type FileMetadata struct {
	ID             string    `json:"id"`
	Filename       string    `json:"filename"`
	Size           int64     `json:"size"`
	ContentType    string    `json:"content_type"`
	S3Key          string    `json:"s3_key"`
	S3Bucket       string    `json:"s3_bucket"`
	MessageID      uint      `json:"message_id"`
	ConversationID uint      `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
}

package history

import (
	"encoding/base64"
	"fmt"
	"time"
)

// Cursor позиция пагинации: (CreatedAt, ID) самого старого загруженного
// сообщения. Снаружи непрозрачна, по проводу ходит в base64.
// Живет от первой загрузки до смены беседы.
type Cursor struct {
	CreatedAt time.Time
	MessageID uint
}

func (c Cursor) IsZero() bool {
	return c.MessageID == 0 && c.CreatedAt.IsZero()
}

// Encode формат совместим с серверной пагинацией: "<unix_milli>:<id>"
func (c Cursor) Encode() string {
	if c.IsZero() {
		return ""
	}
	raw := fmt.Sprintf("%d:%d", c.CreatedAt.UnixMilli(), c.MessageID)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	var millis int64
	var id uint
	if _, err := fmt.Sscanf(string(raw), "%d:%d", &millis, &id); err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor format: %w", err)
	}

	return Cursor{CreatedAt: time.UnixMilli(millis).UTC(), MessageID: id}, nil
}

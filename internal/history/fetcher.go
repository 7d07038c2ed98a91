package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tush00nka/bbbab_sync/internal/model"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Page одна страница истории
type Page struct {
	Messages   []model.Message `json:"messages"`
	HasMore    bool            `json:"has_more"`
	NextCursor string          `json:"next_cursor"`
}

// PageFetcher загружает страницу истории старше курсора.
// Состояния не держит: повторные и перекрывающиеся запросы безопасны,
// слияние делает транскрипт.
type PageFetcher interface {
	FetchPage(ctx context.Context, conversationID uint, cursor Cursor, limit int) (*Page, error)
}

// FetchError ошибка загрузки страницы; Retryable говорит UI, что запрос
// можно повторить. Неуспешная страница не применяется ни частично.
type FetchError struct {
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("history fetch failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("history fetch failed: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable сетевые сбои и 5xx/429 считаем временными
func (e *FetchError) Retryable() bool {
	if e.StatusCode == 0 {
		return !errors.Is(e.Err, context.Canceled)
	}
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type httpPageFetcher struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPPageFetcher клиент REST-пагинации мессенджера:
// GET {base}/chat/{id}/messages?cursor=&limit=&direction=older
func NewHTTPPageFetcher(baseURL, token string) PageFetcher {
	return &httpPageFetcher{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (f *httpPageFetcher) FetchPage(ctx context.Context, conversationID uint, cursor Cursor, limit int) (*Page, error) {
	if conversationID == 0 {
		return nil, errors.New("conversationID cannot be zero")
	}

	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	endpoint := fmt.Sprintf("%s/chat/%d/messages", f.baseURL, conversationID)
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("direction", "older")
	if !cursor.IsZero() {
		q.Set("cursor", cursor.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	req.Header.Set("Bearer", f.token)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{StatusCode: resp.StatusCode}
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, &FetchError{Err: fmt.Errorf("decode page: %w", err)}
	}

	return &page, nil
}

// NextCursorFrom курсор по самому старому сообщению страницы
func NextCursorFrom(msgs []model.Message) Cursor {
	var oldest *model.Message
	for i := range msgs {
		if oldest == nil || msgs[i].Before(oldest) {
			oldest = &msgs[i]
		}
	}
	if oldest == nil {
		return Cursor{}
	}
	return Cursor{CreatedAt: oldest.CreatedAt, MessageID: oldest.ID}
}

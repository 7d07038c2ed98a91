package sync

import (
	"context"
	"errors"
	"log"
	"sync"

	"go.uber.org/atomic"

	"tush00nka/bbbab_sync/internal/history"
	"tush00nka/bbbab_sync/internal/model"
	"tush00nka/bbbab_sync/internal/transcript"
)

// Rooms контракт живого канала событий (internal/room реализует его)
type Rooms interface {
	Bind(chatID uint) error
	Leave() error
	Events() <-chan model.Event
	Send(ev model.Event) bool
}

// Archive долговременное локальное хранилище применённых сообщений
type Archive interface {
	Save(ctx context.Context, msgs ...model.Message) error
	LoadRecent(ctx context.Context, conversationID uint, limit int) ([]model.Message, error)
	Purge(ctx context.Context, conversationID uint) error
}

// Cache горячий кеш последних сообщений беседы
type Cache interface {
	Push(ctx context.Context, conversationID uint, msgs ...model.Message) error
	Recent(ctx context.Context, conversationID uint) ([]model.Message, error)
	Clear(ctx context.Context, conversationID uint) error
}

// Metrics счетчики движка
type Metrics struct {
	EventsApplied atomic.Int64
	PagesLoaded   atomic.Int64
	AcksSent      atomic.Int64
}

// Options необязательные зависимости движка
type Options struct {
	PageSize int
	Archive  Archive
	Cache    Cache
}

// Engine синхронизирует транскрипт одной активной беседы: страницы
// истории и живые события комнаты сходятся в одном Apply, поэтому
// их гонка безопасна. Транскрипт создается на bind и выбрасывается
// при смене беседы — никакого процессного глобального состояния.
type Engine struct {
	userID   uint
	pageSize int
	fetcher  history.PageFetcher
	rooms    Rooms
	archive  Archive
	cache    Cache
	emitter  *AckEmitter

	mu         sync.Mutex
	store      *transcript.Store
	cursor     history.Cursor
	hasMore    bool
	bindCtx    context.Context
	bindCancel context.CancelFunc

	focused     atomic.Bool
	subscribers []func()

	Metrics Metrics
}

var (
	ErrNotBound = errors.New("no conversation bound")
)

// NewEngine создает движок для пользователя userID
func NewEngine(userID uint, fetcher history.PageFetcher, rooms Rooms, opts Options) *Engine {
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}

	e := &Engine{
		userID:   userID,
		pageSize: opts.PageSize,
		fetcher:  fetcher,
		rooms:    rooms,
		archive:  opts.Archive,
		cache:    opts.Cache,
	}
	e.emitter = NewAckEmitter(userID, func(ev model.Event) bool {
		if rooms.Send(ev) {
			e.Metrics.AcksSent.Inc()
			return true
		}
		return false
	})
	return e
}

// Run качает события комнаты в транскрипт; блокируется до отмены ctx.
// Событиям без дельты (typing и служебные) в транскрипте делать нечего.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-e.rooms.Events():
			if !ok {
				return nil
			}
			delta, relevant := ev.Delta()
			if !relevant {
				continue
			}
			e.apply(delta)
		}
	}
}

// Bind привязывает движок к беседе: старый транскрипт выбрасывается,
// висящая загрузка отменяется, комната старой беседы покидается до
// входа в новую. Транскрипт засевается локальным кешем и архивом,
// затем стартует загрузка свежей страницы.
func (e *Engine) Bind(ctx context.Context, conversationID uint) error {
	if conversationID == 0 {
		return errors.New("conversationID cannot be zero")
	}

	e.mu.Lock()
	if e.bindCancel != nil {
		e.bindCancel()
	}

	store := transcript.NewStore(conversationID)
	store.OnChange(e.notifySubscribers)

	bindCtx, cancel := context.WithCancel(ctx)
	e.store = store
	e.cursor = history.Cursor{}
	e.hasMore = true
	e.bindCtx = bindCtx
	e.bindCancel = cancel
	e.mu.Unlock()

	// Локальные источники до сети: мгновенный rebind
	if e.cache != nil {
		if cached, err := e.cache.Recent(bindCtx, conversationID); err == nil && len(cached) > 0 {
			store.Apply(cached...)
		} else if err != nil {
			log.Printf("sync: cache seed failed: %v", err)
		}
	}
	if e.archive != nil {
		if archived, err := e.archive.LoadRecent(bindCtx, conversationID, e.pageSize*2); err == nil && len(archived) > 0 {
			store.Apply(archived...)
		} else if err != nil {
			log.Printf("sync: archive seed failed: %v", err)
		}
	}

	if err := e.rooms.Bind(conversationID); err != nil {
		return err
	}

	go func() {
		if err := e.loadPage(bindCtx, store, history.Cursor{}); err != nil {
			log.Printf("sync: initial page load: %v", err)
		}
	}()

	return nil
}

// Unbind отвязывает движок и покидает комнату
func (e *Engine) Unbind() {
	e.mu.Lock()
	if e.bindCancel != nil {
		e.bindCancel()
		e.bindCancel = nil
	}
	e.store = nil
	e.cursor = history.Cursor{}
	e.hasMore = false
	e.mu.Unlock()

	if err := e.rooms.Leave(); err != nil {
		log.Printf("sync: leave failed: %v", err)
	}
}

// LoadOlder загружает следующую страницу истории по текущему курсору
func (e *Engine) LoadOlder(ctx context.Context) error {
	e.mu.Lock()
	store := e.store
	cursor := e.cursor
	hasMore := e.hasMore
	bindCtx := e.bindCtx
	e.mu.Unlock()

	if store == nil {
		return ErrNotBound
	}
	if !hasMore {
		return nil
	}
	if cursor.IsZero() && store.Len() > 0 {
		cursor = history.NextCursorFrom(store.Snapshot())
	}

	// Смена беседы отменяет bindCtx: ответ висящей загрузки игнорируется
	merged, cancel := mergeContexts(ctx, bindCtx)
	defer cancel()
	return e.loadPage(merged, store, cursor)
}

func (e *Engine) loadPage(ctx context.Context, store *transcript.Store, cursor history.Cursor) error {
	page, err := e.fetcher.FetchPage(ctx, store.ConversationID(), cursor, e.pageSize)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		// Беседа сменилась, пока страница была в полете — ответ выбрасываем
		return ctx.Err()
	}

	applied := store.Apply(page.Messages...)
	e.Metrics.PagesLoaded.Inc()

	e.mu.Lock()
	if e.store == store {
		e.hasMore = page.HasMore
		next, derr := history.DecodeCursor(page.NextCursor)
		if derr != nil || next.IsZero() {
			next = history.NextCursorFrom(page.Messages)
		}
		if !next.IsZero() {
			e.cursor = next
		}
	}
	e.mu.Unlock()

	if applied > 0 {
		e.persist(ctx, store, page.Messages)
		e.react(store)
	}
	return nil
}

// apply вливает дельту живого события
func (e *Engine) apply(delta model.Message) {
	e.mu.Lock()
	store := e.store
	ctx := e.bindCtx
	e.mu.Unlock()

	if store == nil {
		return
	}

	if store.Apply(delta) > 0 {
		e.Metrics.EventsApplied.Inc()
		e.persist(ctx, store, nil)
		e.react(store)
	}
}

// persist сбрасывает текущее состояние в архив и кеш; ошибки не фатальны
func (e *Engine) persist(ctx context.Context, store *transcript.Store, pageMsgs []model.Message) {
	if ctx == nil || ctx.Err() != nil {
		return
	}

	// Пишем слитые записи из транскрипта, не сырые входные
	var merged []model.Message
	if len(pageMsgs) == 0 {
		merged = store.Snapshot()
	} else {
		for i := range pageMsgs {
			if m, ok := store.Get(pageMsgs[i].ID); ok {
				merged = append(merged, m)
			}
		}
	}

	if e.archive != nil {
		if err := e.archive.Save(ctx, merged...); err != nil {
			log.Printf("sync: archive save failed: %v", err)
		}
	}
	if e.cache != nil {
		if err := e.cache.Push(ctx, store.ConversationID(), merged...); err != nil {
			log.Printf("sync: cache push failed: %v", err)
		}
	}
}

// react прогоняет эмиттер квитанций по свежему снапшоту
func (e *Engine) react(store *transcript.Store) {
	echoes := e.emitter.Sweep(store.Snapshot(), e.focused.Load())
	if len(echoes) > 0 {
		store.Apply(echoes...)
	}
}

// Purge стирает локальные копии беседы (архив и кеш). Транскрипт
// привязанной беседы не трогает: он пересоберется из сети.
func (e *Engine) Purge(ctx context.Context, conversationID uint) error {
	if conversationID == 0 {
		return errors.New("conversationID cannot be zero")
	}

	var firstErr error
	if e.archive != nil {
		if err := e.archive.Purge(ctx, conversationID); err != nil {
			firstErr = err
		}
	}
	if e.cache != nil {
		if err := e.cache.Clear(ctx, conversationID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Focus беседа на экране: шлем seen-квитанции
func (e *Engine) Focus() {
	e.focused.Store(true)

	e.mu.Lock()
	store := e.store
	e.mu.Unlock()
	if store != nil {
		e.react(store)
	}
}

// Blur беседа ушла с экрана
func (e *Engine) Blur() {
	e.focused.Store(false)
}

// Transcript упорядоченный снапшот текущей беседы
func (e *Engine) Transcript() []model.Message {
	e.mu.Lock()
	store := e.store
	e.mu.Unlock()

	if store == nil {
		return nil
	}
	return store.Snapshot()
}

// ReadState последний прочитанный id по каждому участнику
func (e *Engine) ReadState() map[uint]uint {
	e.mu.Lock()
	store := e.store
	e.mu.Unlock()

	if store == nil {
		return map[uint]uint{}
	}
	return store.ReadState()
}

// ConversationID текущая привязка (0 — нет)
func (e *Engine) ConversationID() uint {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store == nil {
		return 0
	}
	return e.store.ConversationID()
}

// HasMore остались ли на сервере страницы старее курсора
func (e *Engine) HasMore() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasMore
}

// OnChange подписка переживает смену беседы
func (e *Engine) OnChange(fn func()) {
	e.mu.Lock()
	e.subscribers = append(e.subscribers, fn)
	e.mu.Unlock()
}

func (e *Engine) notifySubscribers() {
	e.mu.Lock()
	subs := make([]func(), len(e.subscribers))
	copy(subs, e.subscribers)
	e.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}

// mergeContexts отмена любого из двух контекстов отменяет результат
func mergeContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	if b == nil {
		return context.WithCancel(a)
	}

	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

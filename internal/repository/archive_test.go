package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tush00nka/bbbab_sync/internal/model"
)

func newTestArchive(t *testing.T) MessageArchive {
	t.Helper()

	db, err := NewDB(":memory:")
	require.NoError(t, err)

	archive, err := NewMessageArchive(db)
	require.NoError(t, err)
	return archive
}

func TestArchiveSaveAndLoadRoundTrip(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	msg := model.Message{
		ID:             1,
		ConversationID: 7,
		SenderID:       9,
		Content:        "hello",
		Attachments:    []model.Attachment{{URL: "https://cdn/x.png", Kind: "image", Filename: "x.png"}},
		ReplyTo:        0,
		CreatedAt:      at,
		SeenBy:         model.NewUserSet(9),
		DeliveredBy:    model.NewUserSet(9, 5),
	}

	require.NoError(t, archive.Save(ctx, msg))

	got, err := archive.LoadRecent(ctx, 7, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "hello", got[0].Content)
	require.Equal(t, []uint{9}, got[0].SeenBy.IDs())
	require.Equal(t, []uint{5, 9}, got[0].DeliveredBy.IDs())
	require.Len(t, got[0].Attachments, 1)
	require.True(t, got[0].CreatedAt.Equal(at))
}

func TestArchiveUpsertOverwrites(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	msg := model.Message{ID: 1, ConversationID: 7, SenderID: 9, Content: "hello", CreatedAt: at}
	require.NoError(t, archive.Save(ctx, msg))

	// The merged transcript record grows receipts and the tombstone.
	msg.SeenBy = model.NewUserSet(5)
	msg.IsDeleted = true
	require.NoError(t, archive.Save(ctx, msg))

	got, err := archive.LoadRecent(ctx, 7, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.True(t, got[0].IsDeleted)
	require.Equal(t, []uint{5}, got[0].SeenBy.IDs())
}

func TestArchiveLoadRecentRespectsLimitAndConversation(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var msgs []model.Message
	for i := uint(1); i <= 5; i++ {
		msgs = append(msgs, model.Message{
			ID: i, ConversationID: 7, SenderID: 9,
			CreatedAt: at.Add(time.Duration(i) * time.Second),
		})
	}
	msgs = append(msgs, model.Message{ID: 100, ConversationID: 8, SenderID: 9, CreatedAt: at})
	require.NoError(t, archive.Save(ctx, msgs...))

	got, err := archive.LoadRecent(ctx, 7, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// Newest first.
	require.Equal(t, uint(5), got[0].ID)

	count, err := archive.Count(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(5), count)
}

func TestArchiveSkipsMalformedAndPurges(t *testing.T) {
	archive := newTestArchive(t)
	ctx := context.Background()

	require.NoError(t, archive.Save(ctx, model.Message{ID: 0, ConversationID: 7}))
	require.NoError(t, archive.Save(ctx)) // empty batch

	count, err := archive.Count(ctx, 7)
	require.NoError(t, err)
	require.Zero(t, count)

	require.NoError(t, archive.Save(ctx, model.Message{ID: 1, ConversationID: 7}))
	require.NoError(t, archive.Purge(ctx, 7))

	count, err = archive.Count(ctx, 7)
	require.NoError(t, err)
	require.Zero(t, count)
}

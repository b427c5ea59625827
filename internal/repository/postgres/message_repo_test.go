package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/and161185/cipher-relay/internal/errs"
	"github.com/and161185/cipher-relay/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

var messageCols = []string{"id", "chat_id", "sender_id", "ciphertext", "nonce", "created_at"}

func TestMessageRepo_Create(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewMessageRepo(db)
	ctx := context.Background()
	m := &model.Message{
		ID:       uuid.Must(uuid.NewV4()),
		ChatID:   uuid.Must(uuid.NewV4()),
		SenderID: uuid.Must(uuid.NewV4()),
		Payload:  model.Envelope{Ciphertext: []byte("ct"), Nonce: []byte("n")},
	}
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO messages`).
		WithArgs(m.ID, m.ChatID, m.SenderID, m.Payload.Ciphertext, m.Payload.Nonce).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectExec(`UPDATE chats SET updated_at`).WithArgs(m.ChatID, now).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()
	require.NoError(t, r.Create(ctx, m))
	require.Equal(t, now, m.CreatedAt)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO messages`).
		WithArgs(m.ID, m.ChatID, m.SenderID, m.Payload.Ciphertext, m.Payload.Nonce).
		WillReturnError(&pgconn.PgError{Code: "23503"})
	mock.ExpectRollback()
	require.ErrorIs(t, r.Create(ctx, m), errs.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_Page(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewMessageRepo(db)
	chatID := uuid.Must(uuid.NewV4())
	sender := uuid.Must(uuid.NewV4())
	reader := uuid.Must(uuid.NewV4())
	newer := uuid.Must(uuid.NewV4())
	older := uuid.Must(uuid.NewV4())
	t1 := time.Now().UTC()
	t0 := t1.Add(-time.Minute)

	mock.ExpectQuery(`SELECT count\(\*\) FROM messages WHERE chat_id=\$1`).
		WithArgs(chatID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(2)))
	mock.ExpectQuery(`ORDER BY created_at DESC, id DESC LIMIT \$2 OFFSET \$3`).
		WithArgs(chatID, 20, 0).
		WillReturnRows(pgxmock.NewRows(messageCols).
			AddRow(newer, chatID, sender, []byte("c1"), []byte("n1"), t1).
			AddRow(older, chatID, sender, []byte("c0"), []byte("n0"), t0))
	mock.ExpectQuery(`FROM message_reads WHERE message_id = ANY\(\$1\)`).
		WithArgs([]uuid.UUID{newer, older}).
		WillReturnRows(pgxmock.NewRows([]string{"message_id", "reader_id", "read_at"}).AddRow(older, reader, t1))

	msgs, total, err := r.Page(context.Background(), chatID, 0, 20)
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, msgs, 2)
	require.Equal(t, newer, msgs[0].ID)
	require.False(t, msgs[0].ReadByUser(reader))
	require.True(t, msgs[1].ReadByUser(reader))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_Page_PastEnd(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewMessageRepo(db)
	chatID := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`SELECT count\(\*\) FROM messages`).
		WithArgs(chatID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(5)))
	msgs, total, err := r.Page(context.Background(), chatID, 20, 20)
	require.NoError(t, err)
	require.Equal(t, int64(5), total)
	require.Empty(t, msgs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRepo_ReadState(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewMessageRepo(db)
	ctx := context.Background()
	chatID := uuid.Must(uuid.NewV4())
	reader := uuid.Must(uuid.NewV4())

	mock.ExpectExec(`INSERT INTO message_reads`).WithArgs(chatID, reader).WillReturnResult(pgxmock.NewResult("INSERT", 4))
	n, err := r.MarkRead(ctx, chatID, reader)
	require.NoError(t, err)
	require.Equal(t, int64(4), n)

	mock.ExpectQuery(`SELECT count\(\*\) FROM messages m WHERE`).
		WithArgs(chatID, reader).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(0)))
	n, err = r.UnreadCount(ctx, chatID, reader)
	require.NoError(t, err)
	require.Zero(t, n)

	mock.ExpectQuery(`ORDER BY m.created_at, m.id LIMIT \$3`).
		WithArgs(chatID, reader, 50).
		WillReturnRows(pgxmock.NewRows(messageCols))
	msgs, err := r.ListUnread(ctx, chatID, reader, 50)
	require.NoError(t, err)
	require.Empty(t, msgs)

	mock.ExpectExec(`DELETE FROM messages WHERE chat_id=\$1`).WithArgs(chatID).WillReturnResult(pgxmock.NewResult("DELETE", 7))
	n, err = r.DeleteAll(ctx, chatID)
	require.NoError(t, err)
	require.Equal(t, int64(7), n)

	require.NoError(t, mock.ExpectationsWereMet())
}

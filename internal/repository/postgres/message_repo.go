package postgres

import (
	"context"

	"github.com/and161185/cipher-relay/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// MessageRepo implements MessageRepository using PostgreSQL.
type MessageRepo struct{ db *DB }

// NewMessageRepo constructs a message repository.
func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

const messageColumns = `id, chat_id, sender_id, ciphertext, nonce, created_at`

// Create inserts the message and bumps the conversation's activity time.
func (r *MessageRepo) Create(ctx context.Context, m *model.Message) error {
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		const ins = `
INSERT INTO messages (id, chat_id, sender_id, ciphertext, nonce) VALUES ($1, $2, $3, $4, $5)
RETURNING created_at`
		if err := tx.QueryRow(ctx, ins, m.ID, m.ChatID, m.SenderID, m.Payload.Ciphertext, m.Payload.Nonce).
			Scan(&m.CreatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE chats SET updated_at=$2 WHERE id=$1`, m.ChatID, m.CreatedAt)
		return err
	})
	return mapWriteErr(err)
}

// Page returns one slice of the history, newest first, with its read markers.
func (r *MessageRepo) Page(ctx context.Context, chatID uuid.UUID, offset, limit int) ([]model.Message, int64, error) {
	var total int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT count(*) FROM messages WHERE chat_id=$1`, chatID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if total == 0 || int64(offset) >= total {
		return []model.Message{}, total, nil
	}

	q := `SELECT ` + messageColumns + ` FROM messages WHERE chat_id=$1
ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
	msgs, err := r.query(ctx, q, chatID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if err := r.attachReads(ctx, msgs); err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

func (r *MessageRepo) query(ctx context.Context, q string, args ...any) ([]model.Message, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Message{}
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Payload.Ciphertext, &m.Payload.Nonce, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MessageRepo) attachReads(ctx context.Context, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(msgs))
	index := make(map[uuid.UUID]int, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
		index[m.ID] = i
	}

	rows, err := r.db.Pool.Query(ctx,
		`SELECT message_id, reader_id, read_at FROM message_reads WHERE message_id = ANY($1) ORDER BY read_at`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			msgID uuid.UUID
			rm    model.ReadMarker
		)
		if err := rows.Scan(&msgID, &rm.ReaderID, &rm.ReadAt); err != nil {
			return err
		}
		if i, ok := index[msgID]; ok {
			msgs[i].ReadBy = append(msgs[i].ReadBy, rm)
		}
	}
	return rows.Err()
}

// MarkRead adds a marker for readerID to every message by others that lacks one.
func (r *MessageRepo) MarkRead(ctx context.Context, chatID, readerID uuid.UUID) (int64, error) {
	const q = `
INSERT INTO message_reads (message_id, reader_id, read_at)
SELECT m.id, $2, now() FROM messages m
WHERE m.chat_id=$1 AND m.sender_id <> $2
ON CONFLICT (message_id, reader_id) DO NOTHING`
	tag, err := r.db.Pool.Exec(ctx, q, chatID, readerID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const unreadFilter = `
m.chat_id=$1 AND m.sender_id <> $2
AND NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.reader_id = $2)`

// UnreadCount counts messages by others without a marker for readerID.
func (r *MessageRepo) UnreadCount(ctx context.Context, chatID, readerID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.Pool.QueryRow(ctx, `SELECT count(*) FROM messages m WHERE`+unreadFilter, chatID, readerID).Scan(&n)
	return n, err
}

// ListUnread returns unread messages by others, oldest first.
func (r *MessageRepo) ListUnread(ctx context.Context, chatID, readerID uuid.UUID, limit int) ([]model.Message, error) {
	q := `SELECT m.id, m.chat_id, m.sender_id, m.ciphertext, m.nonce, m.created_at FROM messages m WHERE` +
		unreadFilter + `
ORDER BY m.created_at, m.id LIMIT $3`
	return r.query(ctx, q, chatID, readerID, limit)
}

// DeleteAll removes every message of a conversation; read markers cascade.
func (r *MessageRepo) DeleteAll(ctx context.Context, chatID uuid.UUID) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM messages WHERE chat_id=$1`, chatID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

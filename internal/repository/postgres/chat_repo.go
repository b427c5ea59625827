package postgres

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/and161185/cipher-relay/internal/errs"
	"github.com/and161185/cipher-relay/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// ChatRepo implements ChatRepository using PostgreSQL.
type ChatRepo struct{ db *DB }

// NewChatRepo constructs a conversation repository.
func NewChatRepo(db *DB) *ChatRepo { return &ChatRepo{db: db} }

// directKey orders the pair so both participants map to the same unique key.
func directKey(a, b uuid.UUID) string {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		a, b = b, a
	}
	return a.String() + ":" + b.String()
}

// Get loads a conversation with members, pending requests and key entries.
func (r *ChatRepo) Get(ctx context.Context, id uuid.UUID) (*model.Conversation, error) {
	const q = `SELECT id, name, is_group, admin_id, created_at, updated_at FROM chats WHERE id=$1`
	var (
		c     model.Conversation
		admin uuid.NullUUID
	)
	err := r.db.Pool.QueryRow(ctx, q, id).Scan(&c.ID, &c.Name, &c.IsGroup, &admin, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	if admin.Valid {
		c.AdminID = admin.UUID
	}

	if c.Members, err = r.ids(ctx, `SELECT user_id FROM chat_members WHERE chat_id=$1 ORDER BY seq`, id); err != nil {
		return nil, err
	}
	if !c.IsGroup {
		return &c, nil
	}
	if c.Pending, err = r.ids(ctx, `SELECT user_id FROM chat_pending WHERE chat_id=$1 ORDER BY requested_at`, id); err != nil {
		return nil, err
	}
	if c.Keys, err = r.keys(ctx, id); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ChatRepo) ids(ctx context.Context, q string, chatID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.Pool.Query(ctx, q, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *ChatRepo) keys(ctx context.Context, chatID uuid.UUID) ([]model.WrappedKeyEntry, error) {
	const q = `
SELECT k.member_id, k.ciphertext, k.nonce
FROM group_keys k JOIN chat_members m ON m.chat_id = k.chat_id AND m.user_id = k.member_id
WHERE k.chat_id=$1
ORDER BY m.seq`
	rows, err := r.db.Pool.Query(ctx, q, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.WrappedKeyEntry{}
	for rows.Next() {
		var e model.WrappedKeyEntry
		if err := rows.Scan(&e.MemberID, &e.Key.Ciphertext, &e.Key.Nonce); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindDirect returns the direct conversation between two identities.
func (r *ChatRepo) FindDirect(ctx context.Context, a, b uuid.UUID) (*model.Conversation, error) {
	var id uuid.UUID
	err := r.db.Pool.QueryRow(ctx, `SELECT id FROM chats WHERE direct_key=$1`, directKey(a, b)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return r.Get(ctx, id)
}

const insertMember = `INSERT INTO chat_members (chat_id, user_id) VALUES ($1, $2)`

// CreateDirect inserts a direct conversation between c.Members[0] and c.Members[1].
func (r *ChatRepo) CreateDirect(ctx context.Context, c *model.Conversation) error {
	if c.IsGroup || len(c.Members) != 2 {
		return errs.ErrInvalidArgument
	}
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		const ins = `
INSERT INTO chats (id, name, is_group, direct_key) VALUES ($1, $2, false, $3)
RETURNING created_at, updated_at`
		if err := tx.QueryRow(ctx, ins, c.ID, c.Name, directKey(c.Members[0], c.Members[1])).
			Scan(&c.CreatedAt, &c.UpdatedAt); err != nil {
			return err
		}
		for _, m := range c.Members {
			if _, err := tx.Exec(ctx, insertMember, c.ID, m); err != nil {
				return err
			}
		}
		return nil
	})
	return mapWriteErr(err)
}

// CreateGroup inserts a group with its members and key entries atomically.
func (r *ChatRepo) CreateGroup(ctx context.Context, c *model.Conversation) error {
	if !c.IsGroup || c.AdminID == uuid.Nil {
		return errs.ErrInvalidArgument
	}
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		const ins = `
INSERT INTO chats (id, name, is_group, admin_id) VALUES ($1, $2, true, $3)
RETURNING created_at, updated_at`
		if err := tx.QueryRow(ctx, ins, c.ID, c.Name, c.AdminID).Scan(&c.CreatedAt, &c.UpdatedAt); err != nil {
			return err
		}
		for _, m := range c.Members {
			if _, err := tx.Exec(ctx, insertMember, c.ID, m); err != nil {
				return err
			}
		}
		for _, k := range c.Keys {
			if err := upsertKey(ctx, tx, c.ID, k); err != nil {
				return err
			}
		}
		return nil
	})
	return mapWriteErr(err)
}

func upsertKey(ctx context.Context, tx pgx.Tx, chatID uuid.UUID, k model.WrappedKeyEntry) error {
	const q = `
INSERT INTO group_keys (chat_id, member_id, ciphertext, nonce) VALUES ($1, $2, $3, $4)
ON CONFLICT (chat_id, member_id) DO UPDATE SET ciphertext=EXCLUDED.ciphertext, nonce=EXCLUDED.nonce`
	_, err := tx.Exec(ctx, q, chatID, k.MemberID, k.Key.Ciphertext, k.Key.Nonce)
	return err
}

func mapWriteErr(err error) error {
	switch {
	case isUniqueViolation(err):
		return errs.ErrAlreadyExists
	case isForeignKeyViolation(err):
		return errs.ErrNotFound
	default:
		return err
	}
}

// ListForUser returns the user's conversations with unread counts and member ids.
func (r *ChatRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]model.ConversationSummary, error) {
	const q = `
SELECT c.id, c.name, c.is_group, c.admin_id, c.created_at, c.updated_at,
       (SELECT count(*) FROM messages m
         WHERE m.chat_id = c.id AND m.sender_id <> $1
           AND NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.reader_id = $1)) AS unread
FROM chats c
JOIN chat_members cm ON cm.chat_id = c.id AND cm.user_id = $1
ORDER BY c.updated_at DESC`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	var (
		out   []model.ConversationSummary
		ids   []uuid.UUID
		index = map[uuid.UUID]int{}
	)
	for rows.Next() {
		var (
			s     model.ConversationSummary
			admin uuid.NullUUID
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.IsGroup, &admin, &s.CreatedAt, &s.UpdatedAt, &s.UnreadCount); err != nil {
			rows.Close()
			return nil, err
		}
		if admin.Valid {
			s.AdminID = admin.UUID
		}
		index[s.ID] = len(out)
		ids = append(ids, s.ID)
		out = append(out, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []model.ConversationSummary{}, nil
	}

	mrows, err := r.db.Pool.Query(ctx, `SELECT chat_id, user_id FROM chat_members WHERE chat_id = ANY($1) ORDER BY seq`, ids)
	if err != nil {
		return nil, err
	}
	defer mrows.Close()
	for mrows.Next() {
		var chatID, member uuid.UUID
		if err := mrows.Scan(&chatID, &member); err != nil {
			return nil, err
		}
		if i, ok := index[chatID]; ok {
			out[i].Members = append(out[i].Members, member)
		}
	}
	return out, mrows.Err()
}

// ListGroups returns the group directory ordered by name.
func (r *ChatRepo) ListGroups(ctx context.Context) ([]model.GroupInfo, error) {
	const q = `
SELECT c.id, c.name, c.admin_id, count(cm.user_id)
FROM chats c LEFT JOIN chat_members cm ON cm.chat_id = c.id
WHERE c.is_group
GROUP BY c.id, c.name, c.admin_id
ORDER BY c.name, c.id`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.GroupInfo{}
	for rows.Next() {
		var g model.GroupInfo
		if err := rows.Scan(&g.ID, &g.Name, &g.AdminID, &g.MemberCount); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListAdminPending returns groups administered by adminID that have pending requests.
func (r *ChatRepo) ListAdminPending(ctx context.Context, adminID uuid.UUID) ([]model.Conversation, error) {
	const q = `
SELECT c.id FROM chats c
WHERE c.admin_id=$1 AND EXISTS (SELECT 1 FROM chat_pending p WHERE p.chat_id = c.id)
ORDER BY c.updated_at DESC`
	rows, err := r.db.Pool.Query(ctx, q, adminID)
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.Conversation, 0, len(ids))
	for _, id := range ids {
		c, err := r.Get(ctx, id)
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// IsMember reports whether userID belongs to the conversation.
func (r *ChatRepo) IsMember(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM chat_members WHERE chat_id=$1 AND user_id=$2)`
	var ok bool
	err := r.db.Pool.QueryRow(ctx, q, chatID, userID).Scan(&ok)
	return ok, err
}

// AddPending records a join request; repeated requests are no-ops.
func (r *ChatRepo) AddPending(ctx context.Context, chatID, userID uuid.UUID) error {
	const q = `
INSERT INTO chat_pending (chat_id, user_id) VALUES ($1, $2)
ON CONFLICT (chat_id, user_id) DO NOTHING`
	_, err := r.db.Pool.Exec(ctx, q, chatID, userID)
	return mapWriteErr(err)
}

// ApprovePending moves the entry's member from pending to members and stores the key entry.
func (r *ChatRepo) ApprovePending(ctx context.Context, chatID uuid.UUID, entry model.WrappedKeyEntry) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM chat_pending WHERE chat_id=$1 AND user_id=$2`, chatID, entry.MemberID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrNotFound
		}
		if _, err := tx.Exec(ctx, insertMember, chatID, entry.MemberID); err != nil {
			return mapWriteErr(err)
		}
		if err := upsertKey(ctx, tx, chatID, entry); err != nil {
			return err
		}
		return touch(ctx, tx, chatID)
	})
}

// RemovePending drops a join request.
func (r *ChatRepo) RemovePending(ctx context.Context, chatID, userID uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM chat_pending WHERE chat_id=$1 AND user_id=$2`, chatID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// RemoveMember drops the member and its key entry.
func (r *ChatRepo) RemoveMember(ctx context.Context, chatID, userID uuid.UUID) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM group_keys WHERE chat_id=$1 AND member_id=$2`, chatID, userID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM chat_members WHERE chat_id=$1 AND user_id=$2`, chatID, userID); err != nil {
			return err
		}
		return touch(ctx, tx, chatID)
	})
}

func touch(ctx context.Context, tx pgx.Tx, chatID uuid.UUID) error {
	_, err := tx.Exec(ctx, `UPDATE chats SET updated_at=$2 WHERE id=$1`, chatID, time.Now().UTC())
	return err
}

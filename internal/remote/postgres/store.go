package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophmsg/internal/common"
	"github.com/dmitrijs2005/gophmsg/internal/dbx"
	"github.com/dmitrijs2005/gophmsg/internal/logging"
	"github.com/dmitrijs2005/gophmsg/internal/realtime"
	"github.com/dmitrijs2005/gophmsg/internal/remote"
)

const messageColumns = `id, sender_id, receiver_id, content, image_url, status, seq_num, created_at, is_read`

// Store implements remote.Store over a dbx.DBTX (*sql.DB or *sql.Tx).
// When a publisher is set, committed inserts and profile updates are
// announced on the realtime feed.
type Store struct {
	db        dbx.DBTX
	publisher realtime.Publisher
	logger    logging.Logger
}

// NewStore builds a Store. publisher may be nil.
func NewStore(db dbx.DBTX, publisher realtime.Publisher, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Store{db: db, publisher: publisher, logger: logger.With("module", "remote.postgres")}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner, extra ...any) (*remote.Message, error) {
	var m remote.Message
	var image sql.NullString
	var status string

	dest := append([]any{&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &image, &status, &m.SeqNum, &m.CreatedAt, &m.IsRead}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	m.ImageRef = image.String
	m.Status = remote.Status(status)
	return &m, nil
}

func queryError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", common.ErrRemoteQuery, op, err)
}

// placeholders returns "$from, $from+1, ..." for n arguments.
func placeholders(from, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(ph, ", ")
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*remote.Profile, error) {
	query := `
		SELECT user_id, display_name, avatar_url,
		       COALESCE(public_key, ''), COALESCE(device_id, ''), COALESCE(key_fingerprint, '')
		FROM profiles WHERE user_id = $1`

	var p remote.Profile
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID, &p.DisplayName, &p.AvatarURL, &p.PublicKey, &p.DeviceID, &p.KeyFingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, queryError("get profile", err)
	}
	return &p, nil
}

func (s *Store) GetProfiles(ctx context.Context, userIDs []string) (map[string]remote.Profile, error) {
	result := make(map[string]remote.Profile, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}
	query := `
		SELECT user_id, display_name, avatar_url,
		       COALESCE(public_key, ''), COALESCE(device_id, ''), COALESCE(key_fingerprint, '')
		FROM profiles WHERE user_id IN (` + placeholders(1, len(userIDs)) + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, queryError("get profiles", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p remote.Profile
		if err := rows.Scan(&p.UserID, &p.DisplayName, &p.AvatarURL, &p.PublicKey, &p.DeviceID, &p.KeyFingerprint); err != nil {
			return nil, queryError("get profiles", err)
		}
		result[p.UserID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("get profiles", err)
	}
	return result, nil
}

// PublishDeviceKey upserts the key fields of key.UserID's profile.
// Display name and avatar are left untouched.
func (s *Store) PublishDeviceKey(ctx context.Context, key remote.DeviceKey) error {
	query := `
		INSERT INTO profiles (user_id, public_key, device_id, key_fingerprint, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET
			public_key = EXCLUDED.public_key,
			device_id = EXCLUDED.device_id,
			key_fingerprint = EXCLUDED.key_fingerprint,
			updated_at = EXCLUDED.updated_at`

	if _, err := s.db.ExecContext(ctx, query, key.UserID, key.PublicKey, key.DeviceID, key.KeyFingerprint); err != nil {
		return queryError("publish device key", err)
	}

	s.publish(ctx, key.UserID, realtime.TableProfiles, realtime.OpUpdate, remote.Profile{
		UserID: key.UserID, PublicKey: key.PublicKey, DeviceID: key.DeviceID, KeyFingerprint: key.KeyFingerprint,
	})
	return nil
}

// InsertMessage inserts msg unless its id already exists, in which case the
// stored row is returned unchanged. An id reused by a different sender is
// rejected with common.ErrIdempotencyClash.
func (s *Store) InsertMessage(ctx context.Context, msg remote.NewMessage) (*remote.Message, error) {
	query := `
		INSERT INTO messages (id, sender_id, receiver_id, content, image_url)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		ON CONFLICT (id) DO NOTHING
		RETURNING ` + messageColumns

	row, err := scanMessage(s.db.QueryRowContext(ctx, query, msg.ID, msg.SenderID, msg.ReceiverID, msg.Content, msg.ImageRef))
	if err == nil {
		s.publish(ctx, row.ReceiverID, realtime.TableMessages, realtime.OpInsert, row)
		if row.SenderID != row.ReceiverID {
			s.publish(ctx, row.SenderID, realtime.TableMessages, realtime.OpInsert, row)
		}
		return row, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, queryError("insert message", err)
	}

	existing, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, msg.ID))
	if err != nil {
		return nil, queryError("load existing message", err)
	}
	if existing.SenderID != msg.SenderID {
		return nil, common.ErrIdempotencyClash
	}
	return existing, nil
}

func (s *Store) ListThread(ctx context.Context, me, peer string) ([]remote.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY seq_num ASC`

	return s.queryMessages(ctx, "list thread", query, me, peer)
}

func (s *Store) RecentMessages(ctx context.Context, me string, limit int) ([]remote.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY seq_num DESC
		LIMIT $2`

	return s.queryMessages(ctx, "recent messages", query, me, limit)
}

func (s *Store) queryMessages(ctx context.Context, op, query string, args ...any) ([]remote.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, queryError(op, err)
	}
	defer rows.Close()

	var result []remote.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, queryError(op, err)
		}
		result = append(result, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(op, err)
	}
	return result, nil
}

func (s *Store) MarkThreadRead(ctx context.Context, me, peer string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT mark_thread_read($1, $2)`, me, peer).Scan(&n); err != nil {
		return 0, queryError("mark thread read", err)
	}
	return n, nil
}

func (s *Store) MarkDelivered(ctx context.Context, me string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, me)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE messages SET status = 'delivered'
		WHERE receiver_id = $1 AND status = 'sent' AND id IN (` + placeholders(2, len(ids)) + `)`

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, queryError("mark delivered", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, queryError("mark delivered", err)
	}
	return n, nil
}

func (s *Store) Conversations(ctx context.Context, me string) ([]remote.ConversationSummary, error) {
	query := `SELECT peer_id, ` + messageColumns + `, unread_count FROM conversations_for_user($1)`

	rows, err := s.db.QueryContext(ctx, query, me)
	if err != nil {
		return nil, queryError("conversations", err)
	}
	defer rows.Close()

	var result []remote.ConversationSummary
	for rows.Next() {
		var peer string
		var unread int64
		m, err := scanMessage(prefixScanner{rows: rows, first: &peer}, &unread)
		if err != nil {
			return nil, queryError("conversations", err)
		}
		result = append(result, remote.ConversationSummary{PeerID: peer, Latest: *m, UnreadCount: int(unread)})
	}
	if err := rows.Err(); err != nil {
		return nil, queryError("conversations", err)
	}
	return result, nil
}

// prefixScanner prepends one destination so scanMessage can read rows that
// start with an extra column.
type prefixScanner struct {
	rows  *sql.Rows
	first any
}

func (p prefixScanner) Scan(dest ...any) error {
	return p.rows.Scan(append([]any{p.first}, dest...)...)
}

func (s *Store) publish(ctx context.Context, userID, table, op string, row any) {
	if s.publisher == nil {
		return
	}
	ev, err := realtime.NewEvent(table, op, row)
	if err == nil {
		err = s.publisher.Publish(ctx, userID, ev)
	}
	if err != nil {
		s.logger.Warn(ctx, "realtime publish failed", "table", table, "user", userID, "err", err)
	}
}

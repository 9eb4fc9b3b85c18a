package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SettingUploadChannel is the bot_settings key for the forward target chat
const SettingUploadChannel = "upload_channel"

// Chat is a row of the chats table
type Chat struct {
	ID        int64
	Type      string
	Title     string
	Username  string
	FirstName string
	LastName  string
}

// File is a row of the files table
type File struct {
	ID           int64
	FileType     string
	FileID       string
	FileUniqueID string
	FileName     string
	MimeType     string
	FileSize     int64
	Width        int
	Height       int
	Duration     int
	ChatID       int64
	FromID       int64
	MessageID    int64
	Caption      string
	SentAt       time.Time
}

// Broadcast is a row of the broadcasts table
type Broadcast struct {
	ID         uuid.UUID  `json:"id"`
	Text       string     `json:"text"`
	Total      int        `json:"total"`
	Success    int        `json:"success"`
	Fail       int        `json:"fail"`
	StartedBy  int64      `json:"started_by"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Stats are the totals reported by /stats
type Stats struct {
	TotalUsers  int64 `json:"total_users"`
	TotalGroups int64 `json:"total_groups"`
	TotalFiles  int64 `json:"total_files"`
}

// Store runs the bot's queries against a Database
type Store struct {
	db Database
}

// NewStore wraps db
func NewStore(db Database) *Store {
	return &Store{db: db}
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullIfZero[T int | int64](v T) any {
	if v == 0 {
		return nil
	}
	return v
}

// UpsertChat inserts a chat or refreshes its descriptive fields.
// Empty incoming fields keep the stored value.
func (s *Store) UpsertChat(ctx context.Context, c Chat) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO chats (id, type, title, username, first_name, last_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			title = COALESCE(EXCLUDED.title, chats.title),
			username = COALESCE(EXCLUDED.username, chats.username),
			first_name = COALESCE(EXCLUDED.first_name, chats.first_name),
			last_name = COALESCE(EXCLUDED.last_name, chats.last_name)`,
		c.ID, c.Type, nullIfEmpty(c.Title), nullIfEmpty(c.Username), nullIfEmpty(c.FirstName), nullIfEmpty(c.LastName))
	if err != nil {
		return fmt.Errorf("upsert chat %d: %w", c.ID, err)
	}
	return nil
}

// SaveFile records file metadata and returns the new row id
func (s *Store) SaveFile(ctx context.Context, f File) (int64, error) {
	var sentAt any
	if !f.SentAt.IsZero() {
		sentAt = f.SentAt
	}
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO files (file_type, file_id, file_unique_id, file_name, mime_type, file_size,
			width, height, duration, chat_id, from_id, message_id, caption, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		f.FileType, f.FileID, nullIfEmpty(f.FileUniqueID), nullIfEmpty(f.FileName), nullIfEmpty(f.MimeType), f.FileSize,
		nullIfZero(f.Width), nullIfZero(f.Height), nullIfZero(f.Duration), f.ChatID, nullIfZero(f.FromID), nullIfZero(f.MessageID),
		nullIfEmpty(f.Caption), sentAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save file: %w", err)
	}
	return id, nil
}

// Stats counts private users, groups/channels and files
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM chats WHERE type = 'private'),
			(SELECT COUNT(*) FROM chats WHERE type <> 'private'),
			(SELECT COUNT(*) FROM files)`,
	).Scan(&st.TotalUsers, &st.TotalGroups, &st.TotalFiles)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// ListPrivateChatIDs returns every private chat id, the broadcast audience
func (s *Store) ListPrivateChatIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM chats WHERE type = 'private' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list private chats: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chat id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddBannedWord stores word and reports whether it was new
func (s *Store) AddBannedWord(ctx context.Context, word string) (bool, error) {
	tag, err := s.db.Exec(ctx, `INSERT INTO banned_words (word) VALUES ($1) ON CONFLICT (word) DO NOTHING`, word)
	if err != nil {
		return false, fmt.Errorf("add banned word: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RemoveBannedWord deletes word and reports whether it existed
func (s *Store) RemoveBannedWord(ctx context.Context, word string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM banned_words WHERE word = $1`, word)
	if err != nil {
		return false, fmt.Errorf("remove banned word: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListBannedWords returns stored words in alphabetical order
func (s *Store) ListBannedWords(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT word FROM banned_words ORDER BY word`)
	if err != nil {
		return nil, fmt.Errorf("list banned words: %w", err)
	}
	defer rows.Close()

	var words []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, fmt.Errorf("scan banned word: %w", err)
		}
		words = append(words, w)
	}
	return words, rows.Err()
}

// SetUploadChannel persists the forward target chat id
func (s *Store) SetUploadChannel(ctx context.Context, chatID int64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO bot_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		SettingUploadChannel, strconv.FormatInt(chatID, 10))
	if err != nil {
		return fmt.Errorf("set upload channel: %w", err)
	}
	return nil
}

// GetUploadChannel returns the stored forward target, or 0 when unset
func (s *Store) GetUploadChannel(ctx context.Context) (int64, error) {
	var raw string
	err := s.db.QueryRow(ctx, `SELECT value FROM bot_settings WHERE key = $1`, SettingUploadChannel).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get upload channel: %w", err)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("upload channel setting %q is not a chat id: %w", raw, err)
	}
	return id, nil
}

// CreateBroadcast records a broadcast that is about to start
func (s *Store) CreateBroadcast(ctx context.Context, b Broadcast) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO broadcasts (id, text, total, started_by, started_at)
		VALUES ($1, $2, $3, $4, $5)`,
		b.ID, b.Text, b.Total, nullIfZero(b.StartedBy), b.StartedAt)
	if err != nil {
		return fmt.Errorf("create broadcast: %w", err)
	}
	return nil
}

// FinishBroadcast stores the final counters
func (s *Store) FinishBroadcast(ctx context.Context, id uuid.UUID, success, fail int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE broadcasts SET success = $2, fail = $3, finished_at = NOW()
		WHERE id = $1`,
		id, success, fail)
	if err != nil {
		return fmt.Errorf("finish broadcast %s: %w", id, err)
	}
	return nil
}

// ListBroadcasts returns the most recent broadcasts, newest first
func (s *Store) ListBroadcasts(ctx context.Context, limit int) ([]Broadcast, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, text, total, success, fail, started_by, started_at, finished_at
		FROM broadcasts ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list broadcasts: %w", err)
	}
	defer rows.Close()

	out := []Broadcast{}
	for rows.Next() {
		var (
			b         Broadcast
			startedBy *int64
		)
		if err := rows.Scan(&b.ID, &b.Text, &b.Total, &b.Success, &b.Fail, &startedBy, &b.StartedAt, &b.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan broadcast: %w", err)
		}
		if startedBy != nil {
			b.StartedBy = *startedBy
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBroadcastsOlderThan prunes history started before cutoff
func (s *Store) DeleteBroadcastsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM broadcasts WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune broadcasts: %w", err)
	}
	return tag.RowsAffected(), nil
}

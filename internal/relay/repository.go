package relay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"go-chat-sync/internal/event"
)

// Repository is the Postgres MessageStore.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const messageColumns = `id, chat_id, sender_id, content, type, media_url, file_name, file_size, reply_to_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (event.Message, error) {
	var (
		m        event.Message
		mediaURL sql.NullString
		fileName sql.NullString
		fileSize sql.NullInt64
		replyTo  sql.NullInt64
	)
	err := row.Scan(&m.ID, &m.ChatID, &m.CreatedBy, &m.Content, &m.Type,
		&mediaURL, &fileName, &fileSize, &replyTo, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return event.Message{}, err
	}
	m.MediaURL = mediaURL.String
	m.FileName = fileName.String
	m.FileSize = fileSize.Int64
	if replyTo.Valid {
		id := replyTo.Int64
		m.ReplyToID = &id
	}
	return m, nil
}

func (r *Repository) SaveMessage(ctx context.Context, m event.Message) (event.Message, error) {
	query := `INSERT INTO messages (chat_id, sender_id, content, type, media_url, file_name, file_size, reply_to_id)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, 0), $8)
		RETURNING ` + messageColumns
	saved, err := scanMessage(r.db.QueryRowContext(ctx, query,
		m.ChatID, m.CreatedBy, m.Content, m.Type, m.MediaURL, m.FileName, m.FileSize, m.ReplyToID))
	if err != nil {
		return event.Message{}, fmt.Errorf("save message: %w", err)
	}
	return saved, nil
}

func (r *Repository) EditMessage(ctx context.Context, id, userID int64, content string) (event.Message, error) {
	query := `UPDATE messages SET content = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND sender_id = $2
		RETURNING ` + messageColumns
	m, err := scanMessage(r.db.QueryRowContext(ctx, query, id, userID, content))
	if errors.Is(err, sql.ErrNoRows) {
		return event.Message{}, ErrNotFound
	}
	if err != nil {
		return event.Message{}, fmt.Errorf("edit message %d: %w", id, err)
	}
	return m, nil
}

func (r *Repository) DeleteMessage(ctx context.Context, id, userID int64) (int64, error) {
	var chatID int64
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM messages WHERE id = $1 AND sender_id = $2 RETURNING chat_id`, id, userID).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("delete message %d: %w", id, err)
	}
	return chatID, nil
}

func (r *Repository) History(ctx context.Context, chatID int64, limit int) ([]event.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE chat_id = $1
		ORDER BY id DESC
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history of chat %d: %w", chatID, err)
	}
	defer rows.Close()

	var messages []event.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

const notificationColumns = `id, recipient_id, sender_id, type, status, title, message, reference_id, created_at, updated_at`

func scanNotification(row rowScanner) (event.Notification, error) {
	var (
		n   event.Notification
		ref sql.NullInt64
	)
	err := row.Scan(&n.ID, &n.RecipientID, &n.SenderID, &n.Type, &n.Status,
		&n.Title, &n.Message, &ref, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return event.Notification{}, err
	}
	if ref.Valid {
		id := ref.Int64
		n.ReferenceID = &id
	}
	return n, nil
}

func (r *Repository) SaveNotification(ctx context.Context, n event.Notification) (event.Notification, error) {
	if n.Status == "" {
		n.Status = event.NotificationUnread
	}
	query := `INSERT INTO notifications (recipient_id, sender_id, type, status, title, message, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + notificationColumns
	saved, err := scanNotification(r.db.QueryRowContext(ctx, query,
		n.RecipientID, n.SenderID, n.Type, n.Status, n.Title, n.Message, n.ReferenceID))
	if err != nil {
		return event.Notification{}, fmt.Errorf("save notification: %w", err)
	}
	return saved, nil
}

func (r *Repository) Notifications(ctx context.Context, userID int64) ([]event.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT 100`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("load notifications: %w", err)
	}
	defer rows.Close()

	var list []event.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/example/chat-realtime/internal/domain"
)

// MessageRepo is the thin adapter behind domain.MessageService.
type MessageRepo struct {
	DB *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{DB: db}
}

// CreateMessage persists the message, claims any uploaded files for it and
// returns the stored row with the sender's profile attached.
func (r *MessageRepo) CreateMessage(ctx context.Context, p domain.CreateMessageParams) (*domain.Message, error) {
	id := uuid.NewString()

	var replyTo sql.NullString
	if p.ReplyToID != "" {
		replyTo = sql.NullString{String: p.ReplyToID, Valid: true}
	}

	var createdAt time.Time
	err := r.DB.QueryRowContext(ctx,
		`INSERT INTO messages (id, chat_id, user_id, content, reply_to_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		id, p.ChatID, p.UserID, p.Content, replyTo,
	).Scan(&createdAt)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:        id,
		ChatID:    p.ChatID,
		UserID:    p.UserID,
		Content:   p.Content,
		ReplyToID: p.ReplyToID,
		CreatedAt: createdAt,
	}

	for _, fileID := range p.FileIDs {
		var f domain.FileAttachment
		err := r.DB.QueryRowContext(ctx,
			`UPDATE files SET message_id = $1 WHERE id = $2
			 RETURNING id, url, name, type`,
			id, fileID,
		).Scan(&f.ID, &f.URL, &f.Name, &f.Type)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		msg.Files = append(msg.Files, f)
	}

	err = r.DB.QueryRowContext(ctx,
		`SELECT id, name, image FROM users WHERE id = $1`,
		p.UserID,
	).Scan(&msg.User.ID, &msg.User.Name, &msg.User.Image)
	if err != nil {
		return nil, err
	}

	return msg, nil
}

// MarkRead records the read receipt; repeating it is a no-op.
func (r *MessageRepo) MarkRead(ctx context.Context, chatID, messageID, userID string) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO message_reads (message_id, user_id)
		 SELECT m.id, $3 FROM messages m WHERE m.id = $1 AND m.chat_id = $2
		 ON CONFLICT (message_id, user_id) DO NOTHING`,
		messageID, chatID, userID,
	)
	return err
}

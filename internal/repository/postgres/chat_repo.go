package postgres

import (
	"context"
	"database/sql"
	"time"
)

// ChatRepo is the thin adapter behind domain.ChatService.
type ChatRepo struct {
	DB *sql.DB
}

func NewChatRepo(db *sql.DB) *ChatRepo {
	return &ChatRepo{DB: db}
}

// IsMember answers the durable membership question for a chat.
func (r *ChatRepo) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2)`,
		chatID, userID,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// Touch bumps the chat's updated_at and returns the new timestamp.
func (r *ChatRepo) Touch(ctx context.Context, chatID string) (time.Time, error) {
	var updatedAt time.Time
	err := r.DB.QueryRowContext(ctx,
		`UPDATE chats SET updated_at = now() WHERE id = $1 RETURNING updated_at`,
		chatID,
	).Scan(&updatedAt)
	if err != nil {
		return time.Time{}, err
	}
	return updatedAt, nil
}

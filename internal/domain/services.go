package domain

import (
	"context"
	"time"
)

// The CRUD side of the application (chats, messages, users) lives outside
// the transport core. The router and HTTP adapters reach it only through
// these narrow interfaces.

type FileAttachment struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

type User struct {
	ID           string
	Name         string
	Email        string
	Image        string
	Role         string
	PasswordHash string
	CreatedAt    time.Time
}

type Message struct {
	ID        string
	ChatID    string
	UserID    string
	Content   string
	ReplyToID string
	Files     []FileAttachment
	CreatedAt time.Time
	User      Profile
}

type CreateMessageParams struct {
	ChatID    string
	UserID    string
	Content   string
	ReplyToID string
	FileIDs   []string
}

// ChatService answers durable room-membership questions. The in-process
// registry only tracks which connections joined a room; whether a user is
// actually a chat participant is decided here.
type ChatService interface {
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
	Touch(ctx context.Context, chatID string) (time.Time, error)
}

// MessageService persists messages and read-state.
type MessageService interface {
	CreateMessage(ctx context.Context, p CreateMessageParams) (*Message, error)
	MarkRead(ctx context.Context, chatID, messageID, userID string) error
}

// UserService resolves user records and profiles.
type UserService interface {
	GetByID(ctx context.Context, userID string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	Create(ctx context.Context, name, email, passwordHash string) (*User, error)
	FindOrCreateOAuth(ctx context.Context, email, name, image, provider, providerID string) (*User, error)
}

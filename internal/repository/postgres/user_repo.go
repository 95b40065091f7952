package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/example/chat-realtime/internal/domain"
)

// UserRepo is the thin adapter behind domain.UserService.
type UserRepo struct {
	DB *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{DB: db}
}

func (r *UserRepo) GetByID(ctx context.Context, userID string) (*domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, name, email, image, role, password_hash, created_at
		 FROM users WHERE id = $1`,
		userID,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Image, &u.Role, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, name, email, image, role, password_hash, created_at
		 FROM users WHERE email = $1`,
		email,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Image, &u.Role, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	var p domain.Profile
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, name, image FROM users WHERE id = $1`,
		userID,
	).Scan(&p.ID, &p.Name, &p.Image)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *UserRepo) Create(ctx context.Context, name, email, passwordHash string) (*domain.User, error) {
	u := domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		Role:         "user",
		PasswordHash: passwordHash,
	}
	err := r.DB.QueryRowContext(ctx,
		`INSERT INTO users (id, name, email, role, password_hash)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		u.ID, u.Name, u.Email, u.Role, u.PasswordHash,
	).Scan(&u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// FindOrCreateOAuth resolves an OAuth sign-in to a local user, creating
// the account on first sign-in.
func (r *UserRepo) FindOrCreateOAuth(ctx context.Context, email, name, image, provider, providerID string) (*domain.User, error) {
	existing, err := r.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	u := domain.User{
		ID:    uuid.NewString(),
		Name:  name,
		Email: email,
		Image: image,
		Role:  "user",
	}
	err = r.DB.QueryRowContext(ctx,
		`INSERT INTO users (id, name, email, image, role, provider, provider_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		u.ID, u.Name, u.Email, u.Image, u.Role, provider, providerID,
	).Scan(&u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

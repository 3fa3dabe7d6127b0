package users

import "context"

type Repository interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	// Create fails with ErrEmailTaken when the email already exists.
	Create(ctx context.Context, u *User) error
	UpdatePasswordHash(ctx context.Context, email, hash string) error
}

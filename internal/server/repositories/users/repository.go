package users

import (
	"context"

	"github.com/dmitrijs2005/securechat/internal/server/models"
)

// Repository is the user directory the relay consumes.
type Repository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetPublicKey(ctx context.Context, id string) (string, error)
	SetPublicKey(ctx context.Context, id string, publicKey string) error
	SetOnline(ctx context.Context, id string, online bool) error
}

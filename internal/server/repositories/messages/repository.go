package messages

import (
	"context"

	"github.com/dmitrijs2005/securechat/internal/server/models"
)

// Repository persists message envelopes.
type Repository interface {
	Save(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	ListPersonal(ctx context.Context, userID, contactID string, limit int) ([]*models.Message, error)
	ListGroup(ctx context.Context, groupID string, limit int) ([]*models.Message, error)
}

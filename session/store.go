package session

import (
	"context"

	"github.com/goliatone/go-shopify-app/core"
)

// Store keeps sessions server-side; the cookie then carries only a signed id.
type Store interface {
	// Load returns nil, nil when id is unknown or expired.
	Load(ctx context.Context, id string) (*core.Session, error)
	Save(ctx context.Context, session core.Session) error
	Delete(ctx context.Context, id string) error
	DeleteByShop(ctx context.Context, shop string) (int, error)
	PurgeExpired(ctx context.Context) (int, error)
}

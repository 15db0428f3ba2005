package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type sessionRecord struct {
	bun.BaseModel `bun:"table:app_sessions,alias:aps"`

	ID                   string     `bun:"id,pk"`
	Shop                 string     `bun:"shop,notnull"`
	State                string     `bun:"state"`
	EncryptedAccessToken []byte     `bun:"encrypted_access_token"`
	Scopes               string     `bun:"scopes,notnull"`
	Host                 string     `bun:"host"`
	UserID               string     `bun:"user_id"`
	ExpiresAt            *time.Time `bun:"expires_at"`
	CreatedAt            time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt            time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type installationRecord struct {
	bun.BaseModel `bun:"table:app_installations,alias:api"`

	ID            string     `bun:"id,pk"`
	Shop          string     `bun:"shop,notnull"`
	Scopes        string     `bun:"scopes,notnull"`
	Status        string     `bun:"status,notnull"`
	InstalledAt   time.Time  `bun:"installed_at,notnull"`
	UninstalledAt *time.Time `bun:"uninstalled_at"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

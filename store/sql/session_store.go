package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-shopify-app/core"
	"github.com/goliatone/go-shopify-app/security"
	"github.com/uptrace/bun"
)

// SessionStore persists sessions in app_sessions. Access tokens are sealed
// before they reach the database.
type SessionStore struct {
	db     *bun.DB
	repo   repository.Repository[*sessionRecord]
	sealer *security.Sealer
	Now    func() time.Time
}

func NewSessionStore(db *bun.DB, sealer *security.Sealer) (*SessionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	if sealer == nil {
		return nil, fmt.Errorf("sqlstore: session sealer is required")
	}
	repo := repository.NewRepository[*sessionRecord](db, recordHandlers(func() *sessionRecord { return &sessionRecord{} }, "id"))
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid session repository wiring: %w", err)
		}
	}
	return &SessionStore{db: db, repo: repo, sealer: sealer}, nil
}

func (s *SessionStore) Load(ctx context.Context, id string) (*core.Session, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: session store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	record := &sessionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	session, err := s.toDomain(ctx, record)
	if err != nil {
		return nil, err
	}
	if session.Expired(s.now()) {
		return nil, nil
	}
	return &session, nil
}

func (s *SessionStore) Save(ctx context.Context, session core.Session) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: session store is not configured")
	}
	record, err := s.newRecord(ctx, session)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().
		Model(record).
		On("CONFLICT (id) DO UPDATE").
		Set("shop = EXCLUDED.shop").
		Set("state = EXCLUDED.state").
		Set("encrypted_access_token = EXCLUDED.encrypted_access_token").
		Set("scopes = EXCLUDED.scopes").
		Set("host = EXCLUDED.host").
		Set("user_id = EXCLUDED.user_id").
		Set("expires_at = EXCLUDED.expires_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: session store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*sessionRecord)(nil)).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	return err
}

func (s *SessionStore) DeleteByShop(ctx context.Context, shop string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: session store is not configured")
	}
	shop = strings.TrimSpace(shop)
	if shop == "" {
		return 0, fmt.Errorf("sqlstore: shop is required")
	}
	result, err := s.db.NewDelete().
		Model((*sessionRecord)(nil)).
		Where("shop = ?", shop).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return rowsAffected(result), nil
}

func (s *SessionStore) PurgeExpired(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: session store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*sessionRecord)(nil)).
		Where("expires_at IS NOT NULL").
		Where("expires_at <= ?", s.now()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return rowsAffected(result), nil
}

func (s *SessionStore) newRecord(ctx context.Context, session core.Session) (*sessionRecord, error) {
	id := strings.TrimSpace(session.ID)
	if id == "" {
		return nil, fmt.Errorf("sqlstore: session id is required")
	}
	now := s.now()
	record := &sessionRecord{
		ID:        id,
		Shop:      strings.TrimSpace(session.Shop),
		State:     strings.TrimSpace(session.State),
		Scopes:    joinScopes(session.Scopes),
		Host:      strings.TrimSpace(session.Host),
		UserID:    strings.TrimSpace(session.UserID),
		CreatedAt: session.CreatedAt.UTC(),
		UpdatedAt: now,
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if !session.ExpiresAt.IsZero() {
		expiresAt := session.ExpiresAt.UTC()
		record.ExpiresAt = &expiresAt
	}
	if token := strings.TrimSpace(session.AccessToken); token != "" {
		sealed, err := s.sealer.Seal(ctx, []byte(token))
		if err != nil {
			return nil, fmt.Errorf("sqlstore: seal access token: %w", err)
		}
		record.EncryptedAccessToken = sealed
	}
	return record, nil
}

func (s *SessionStore) toDomain(ctx context.Context, record *sessionRecord) (core.Session, error) {
	session := core.Session{
		ID:        record.ID,
		Shop:      record.Shop,
		State:     record.State,
		Scopes:    splitScopes(record.Scopes),
		Host:      record.Host,
		UserID:    record.UserID,
		CreatedAt: record.CreatedAt.UTC(),
		UpdatedAt: record.UpdatedAt.UTC(),
	}
	if record.ExpiresAt != nil {
		session.ExpiresAt = record.ExpiresAt.UTC()
	}
	if len(record.EncryptedAccessToken) > 0 {
		token, err := s.sealer.Open(ctx, record.EncryptedAccessToken)
		if err != nil {
			return core.Session{}, fmt.Errorf("sqlstore: open access token: %w", err)
		}
		session.AccessToken = string(token)
	}
	return session, nil
}

// Count returns the number of stored sessions, expired ones included.
func (s *SessionStore) Count(ctx context.Context) (int, error) {
	if s == nil || s.repo == nil {
		return 0, fmt.Errorf("sqlstore: session store is not configured")
	}
	_, total, err := s.repo.List(ctx)
	return total, err
}

func (s *SessionStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func rowsAffected(result sql.Result) int {
	if result == nil {
		return 0
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0
	}
	return int(count)
}

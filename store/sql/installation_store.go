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
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var errInstallationStoreUnset = fmt.Errorf("sqlstore: installation store is not configured")

// InstallationStore keeps one app_installations row per shop. Uninstalling
// keeps the row so a reinstall reuses its id.
type InstallationStore struct {
	db   *bun.DB
	repo repository.Repository[*installationRecord]
	Now  func() time.Time
}

func NewInstallationStore(db *bun.DB) (*InstallationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*installationRecord](db, recordHandlers(func() *installationRecord {
		return &installationRecord{}
	}, "shop"))
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: installation repository: %w", err)
		}
	}
	return &InstallationStore{db: db, repo: repo}, nil
}

// Upsert creates the installation for a shop or moves the existing row to
// in.Status with the new scopes. A shop can only be created active.
func (s *InstallationStore) Upsert(ctx context.Context, in core.UpsertInstallationInput) (core.Installation, error) {
	if s == nil || s.db == nil {
		return core.Installation{}, errInstallationStoreUnset
	}
	shop, err := core.NormalizeShopDomain(in.Shop)
	if err != nil {
		return core.Installation{}, err
	}
	status, err := installationStatus(in.Status)
	if err != nil {
		return core.Installation{}, err
	}

	now := s.clock()
	var saved *installationRecord
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := lockInstallation(ctx, tx, shop)
		if err != nil {
			return err
		}
		if record == nil {
			if status != core.InstallationStatusActive {
				return core.BadInputError("sqlstore: a new installation must be active").
					WithMetadata(map[string]any{"shop": shop})
			}
			saved, err = s.repo.CreateTx(ctx, tx, &installationRecord{
				ID:          uuid.NewString(),
				Shop:        shop,
				Scopes:      joinScopes(in.Scopes),
				Status:      string(status),
				InstalledAt: now,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
			return err
		}

		record.transition(status, now)
		record.Scopes = joinScopes(in.Scopes)
		saved = record
		return updateInstallation(ctx, tx, record)
	})
	if err != nil {
		return core.Installation{}, err
	}
	return saved.toDomain(), nil
}

func (s *InstallationStore) Get(ctx context.Context, id string) (core.Installation, error) {
	if s == nil || s.repo == nil {
		return core.Installation{}, errInstallationStoreUnset
	}
	record, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return core.Installation{}, err
	}
	return record.toDomain(), nil
}

// GetByShop returns a NotFound error when the shop never installed the app.
func (s *InstallationStore) GetByShop(ctx context.Context, shop string) (core.Installation, error) {
	if s == nil || s.repo == nil {
		return core.Installation{}, errInstallationStoreUnset
	}
	normalized, err := core.NormalizeShopDomain(shop)
	if err != nil {
		return core.Installation{}, err
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("shop", "=", normalized),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Installation{}, err
	}
	if len(records) == 0 {
		return core.Installation{}, installationNotFound(normalized)
	}
	return records[0].toDomain(), nil
}

func (s *InstallationStore) UpdateStatus(ctx context.Context, shop string, status core.InstallationStatus) error {
	if s == nil || s.db == nil {
		return errInstallationStoreUnset
	}
	normalized, err := core.NormalizeShopDomain(shop)
	if err != nil {
		return err
	}
	target, err := installationStatus(status)
	if err != nil {
		return err
	}
	now := s.clock()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := lockInstallation(ctx, tx, normalized)
		if err != nil {
			return err
		}
		if record == nil {
			return installationNotFound(normalized)
		}
		record.transition(target, now)
		return updateInstallation(ctx, tx, record)
	})
}

func (s *InstallationStore) clock() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// lockInstallation reads the shop's row inside tx, nil when there is none.
func lockInstallation(ctx context.Context, tx bun.Tx, shop string) (*installationRecord, error) {
	record := &installationRecord{}
	err := tx.NewSelect().Model(record).Where("?TableAlias.shop = ?", shop).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func updateInstallation(ctx context.Context, tx bun.Tx, record *installationRecord) error {
	_, err := tx.NewUpdate().
		Model(record).
		Column("scopes", "status", "installed_at", "uninstalled_at", "updated_at").
		WherePK().
		Exec(ctx)
	return err
}

func installationNotFound(shop string) error {
	return core.NotFoundError("sqlstore: installation not found").
		WithMetadata(map[string]any{"shop": shop})
}

// installationStatus defaults an empty status to active.
func installationStatus(status core.InstallationStatus) (core.InstallationStatus, error) {
	if strings.TrimSpace(string(status)) == "" {
		return core.InstallationStatusActive, nil
	}
	parsed, err := core.ParseInstallationStatus(string(status))
	if err != nil {
		return "", core.BadInputError(fmt.Sprintf("sqlstore: invalid installation status %q", status))
	}
	return parsed, nil
}

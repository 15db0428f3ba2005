package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-shopify-app/core"
	"github.com/goliatone/go-shopify-app/security"
	"github.com/uptrace/bun"
)

// RepositoryFactory builds the SQL stores over one bun database.
type RepositoryFactory struct {
	db *bun.DB

	sessionStore      *SessionStore
	installationStore *InstallationStore
	cachedStore       *CachedInstallationStore
}

type FactoryOption func(*factoryOptions)

type factoryOptions struct {
	sealer *security.Sealer
	cache  repositorycache.CacheService
}

// WithSessionSealer enables the session store; without it only installations are built.
func WithSessionSealer(sealer *security.Sealer) FactoryOption {
	return func(o *factoryOptions) {
		o.sealer = sealer
	}
}

// WithInstallationCache fronts the installation store with a read-through cache.
func WithInstallationCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(o *factoryOptions) {
		o.cache = cacheService
	}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	if client == nil {
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	}
	return NewRepositoryFactoryFromDB(client.DB(), opts...)
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	options := factoryOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	factory := &RepositoryFactory{db: db}
	installationStore, err := NewInstallationStore(db)
	if err != nil {
		return nil, err
	}
	factory.installationStore = installationStore
	if options.cache != nil {
		cached, err := NewCachedInstallationStore(installationStore, options.cache)
		if err != nil {
			return nil, err
		}
		factory.cachedStore = cached
	}
	if options.sealer != nil {
		sessionStore, err := NewSessionStore(db, options.sealer)
		if err != nil {
			return nil, err
		}
		factory.sessionStore = sessionStore
	}
	return factory, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

// SessionStore is nil unless the factory was built with a session sealer.
func (f *RepositoryFactory) SessionStore() *SessionStore {
	if f == nil {
		return nil
	}
	return f.sessionStore
}

// InstallationStore returns the cached store when a cache was configured.
func (f *RepositoryFactory) InstallationStore() core.InstallationStore {
	if f == nil {
		return nil
	}
	if f.cachedStore != nil {
		return f.cachedStore
	}
	return f.installationStore
}

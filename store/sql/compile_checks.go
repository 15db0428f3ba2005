package sqlstore

import (
	"github.com/goliatone/go-shopify-app/core"
	"github.com/goliatone/go-shopify-app/session"
)

var (
	_ session.Store          = (*SessionStore)(nil)
	_ core.InstallationStore = (*InstallationStore)(nil)
	_ core.InstallationStore = (*CachedInstallationStore)(nil)
)

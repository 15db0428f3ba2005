package webhooks

import (
	"context"
	"fmt"

	"github.com/goliatone/go-shopify-app/core"
)

// SessionPurger removes every stored session of a shop.
type SessionPurger interface {
	DeleteByShop(ctx context.Context, shop string) (int, error)
}

// UninstalledHandler marks the installation uninstalled and drops the shop's
// server-side sessions. Cookie-only sessions are rejected by the verifier
// once the installation is uninstalled.
type UninstalledHandler struct {
	Installations core.InstallationWriter
	Sessions      SessionPurger
	Logger        core.Logger
}

func (h UninstalledHandler) Handle(ctx context.Context, delivery Delivery) error {
	if h.Installations == nil {
		return fmt.Errorf("webhooks: installation store is required")
	}
	if err := h.Installations.UpdateStatus(ctx, delivery.Shop, core.InstallationStatusUninstalled); err != nil && !core.IsNotFound(err) {
		return fmt.Errorf("webhooks: mark %s uninstalled: %w", delivery.Shop, err)
	}
	if h.Sessions == nil {
		return nil
	}
	removed, err := h.Sessions.DeleteByShop(ctx, delivery.Shop)
	if err != nil {
		return fmt.Errorf("webhooks: delete sessions of %s: %w", delivery.Shop, err)
	}
	core.LogWithLevel(ctx, core.ResolveLogger("webhooks", nil, h.Logger), "info", "shop uninstalled", map[string]any{
		"shop":             delivery.Shop,
		"sessions_removed": removed,
	})
	return nil
}

var _ Handler = UninstalledHandler{}

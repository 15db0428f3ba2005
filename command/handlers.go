package command

import (
	"context"
	"strings"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-shopify-app/catalog"
	"github.com/goliatone/go-shopify-app/core"
)

type ProductCreator interface {
	CreateProduct(ctx context.Context, session core.Session, title string) (catalog.Product, error)
}

// CreateProductCommand creates a board game product in the session's shop.
// The created product is stored on the context result collector when present.
type CreateProductCommand struct {
	creator ProductCreator
}

func NewCreateProductCommand(creator ProductCreator) *CreateProductCommand {
	return &CreateProductCommand{creator: creator}
}

func (c *CreateProductCommand) Execute(ctx context.Context, msg CreateProductMessage) error {
	if c == nil || c.creator == nil {
		return commandDependencyError("command: product creator is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.creator.CreateProduct(ctx, msg.Session, strings.TrimSpace(msg.Title))
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}

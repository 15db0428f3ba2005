package command

import (
	"strings"
	"unicode/utf8"

	"github.com/goliatone/go-shopify-app/core"
)

const TypeCreateProduct = "shopifyapp.command.product.create"

const maxProductTitleLength = 255

type CreateProductMessage struct {
	Session core.Session
	Title   string
}

func (CreateProductMessage) Type() string { return TypeCreateProduct }

func (m CreateProductMessage) Validate() error {
	if strings.TrimSpace(m.Session.Shop) == "" {
		return commandValidationError("shop", "is required")
	}
	title := strings.TrimSpace(m.Title)
	if title == "" {
		return commandValidationError("title", "is required")
	}
	if utf8.RuneCountInString(title) > maxProductTitleLength {
		return commandValidationError("title", "must be at most 255 characters")
	}
	return nil
}

package core

import (
	"context"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

// InstallationReader is consulted by the request verifier.
type InstallationReader interface {
	GetByShop(ctx context.Context, shop string) (Installation, error)
}

type InstallationWriter interface {
	Upsert(ctx context.Context, in UpsertInstallationInput) (Installation, error)
	UpdateStatus(ctx context.Context, shop string, status InstallationStatus) error
}

type InstallationStore interface {
	InstallationReader
	InstallationWriter
}

type UpsertInstallationInput struct {
	Shop   string
	Scopes []string
	Status InstallationStatus
}

// ResolveLogger applies provider > logger > nop precedence.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) Logger {
	_, resolved := glog.Resolve(name, provider, logger)
	if resolved == nil {
		return glog.Nop()
	}
	return resolved
}

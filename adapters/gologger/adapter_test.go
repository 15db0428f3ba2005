package gologger

import (
	"context"
	"testing"

	glog "github.com/goliatone/go-logger/glog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerWritesStructuredFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewFromZap(zap.New(core))

	logger.Info("oauth_callback succeeded", "shop", "demo.myshopify.com", "duration_ms", 12)
	logger.Trace("trace as debug")

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(entries))
	}
	if entries[0].Message != "oauth_callback succeeded" {
		t.Fatalf("unexpected message %q", entries[0].Message)
	}
	if got := entries[0].ContextMap()["shop"]; got != "demo.myshopify.com" {
		t.Fatalf("expected shop field, got %#v", got)
	}
	if entries[1].Level != zapcore.DebugLevel {
		t.Fatalf("expected trace to map to debug, got %s", entries[1].Level)
	}
}

func TestLoggerWithFieldsAndProviderNames(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	provider := NewProvider(NewFromZap(zap.New(core)))

	logger := provider.GetLogger("proxy").WithContext(context.Background())
	fieldsLogger, ok := logger.(interface {
		WithFields(map[string]any) glog.Logger
	})
	if !ok {
		t.Fatalf("expected fields support")
	}
	fieldsLogger.WithFields(map[string]any{"stage": "proxy"}).Warn("upstream slow")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if entries[0].LoggerName != "proxy" {
		t.Fatalf("expected named logger, got %q", entries[0].LoggerName)
	}
	if entries[0].ContextMap()["stage"] != "proxy" {
		t.Fatalf("expected stage field, got %#v", entries[0].ContextMap())
	}
}

func TestResolveDeterministicFallback(t *testing.T) {
	direct := NewFromZap(zap.NewNop())
	provider := NewProvider(NewFromZap(zap.NewNop()))

	_, resolved := Resolve("app", provider, direct)
	if resolved == glog.Logger(direct) {
		t.Fatalf("expected provider logger precedence")
	}
	_, resolved = Resolve("app", nil, direct)
	if resolved != glog.Logger(direct) {
		t.Fatalf("expected direct logger when provider is nil")
	}
	_, resolved = Resolve("app", nil, nil)
	if resolved == nil {
		t.Fatalf("expected nop logger fallback")
	}
}

package core

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"
)

var operationReplacer = strings.NewReplacer(" ", "_", "-", "_")

// ObserveOperation logs "<operation> succeeded" at info or "<operation>
// failed" at error, with duration_ms and, on failure, the error text code.
func ObserveOperation(
	ctx context.Context,
	logger Logger,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	if logger == nil {
		return
	}
	operation = operationReplacer.Replace(strings.ToLower(strings.TrimSpace(operation)))
	if operation == "" {
		operation = "unknown"
	}

	entry := maps.Clone(fields)
	if entry == nil {
		entry = map[string]any{}
	}
	entry["operation"] = operation
	entry["duration_ms"] = time.Since(startedAt).Milliseconds()

	if err == nil {
		entry["status"] = "success"
		LogWithLevel(ctx, logger, "info", operation+" succeeded", entry)
		return
	}
	entry["status"] = "failure"
	entry["error"] = err.Error()
	if mapped := MapError(err); mapped != nil {
		entry["error_code"] = mapped.TextCode
	}
	LogWithLevel(ctx, logger, "error", operation+" failed", entry)
}

// LogWithLevel writes fields as sorted key/value pairs with credentials masked.
func LogWithLevel(ctx context.Context, logger Logger, level string, message string, fields map[string]any) {
	if logger == nil {
		return
	}
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}

	masked := RedactSensitiveMap(fields)
	args := make([]any, 0, len(masked)*2)
	for _, key := range slices.Sorted(maps.Keys(masked)) {
		args = append(args, key, masked[key])
	}

	log := logger.Info
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		log = logger.Debug
	case "warn":
		log = logger.Warn
	case "error":
		log = logger.Error
	}
	log(message, args...)
}

// Package logging provides worker label propagation and the detail file log.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

type contextKey string

const (
	runIDKey  contextKey = "runId"
	workerKey contextKey = "worker"
)

// WorkerLabel identifies one worker in log lines.
type WorkerLabel struct {
	Index        int
	TokenPreview string
}

func (l WorkerLabel) String() string {
	return fmt.Sprintf("[%s] [%d]", l.TokenPreview, l.Index)
}

// GenerateRunID creates an 8-character hex id for one supervisor run.
func GenerateRunID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// WithRunID injects a run ID into the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// GetRunID retrieves the run ID from the context.
// Returns empty string if not found.
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}

// WithWorker injects the worker label into the context.
func WithWorker(ctx context.Context, label WorkerLabel) context.Context {
	return context.WithValue(ctx, workerKey, label)
}

// GetWorker retrieves the worker label from the context.
func GetWorker(ctx context.Context) (WorkerLabel, bool) {
	label, ok := ctx.Value(workerKey).(WorkerLabel)
	return label, ok
}

// Prefix returns the "[token] [idx] " prefix for console lines, or "" outside a worker.
func Prefix(ctx context.Context) string {
	if label, ok := GetWorker(ctx); ok {
		return label.String() + " "
	}
	return ""
}

package logging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestGenerateRunID(t *testing.T) {
	id := GenerateRunID()
	if len(id) != 8 {
		t.Errorf("GenerateRunID() length = %d, want 8", len(id))
	}
	if id2 := GenerateRunID(); id == id2 {
		t.Errorf("GenerateRunID() generated duplicate IDs: %s", id)
	}
}

func TestRunIDContext(t *testing.T) {
	ctx := context.Background()
	if got := GetRunID(ctx); got != "" {
		t.Errorf("GetRunID(empty context) = %q, want empty string", got)
	}
	ctx = WithRunID(ctx, "test1234")
	if got := GetRunID(ctx); got != "test1234" {
		t.Errorf("GetRunID() = %q, want test1234", got)
	}
}

func TestPrefix(t *testing.T) {
	ctx := context.Background()
	if got := Prefix(ctx); got != "" {
		t.Errorf("Prefix(empty) = %q", got)
	}
	ctx = WithWorker(ctx, WorkerLabel{Index: 3, TokenPreview: "abcdefgh"})
	if got := Prefix(ctx); got != "[abcdefgh] [3] " {
		t.Errorf("Prefix() = %q", got)
	}
}

func TestInstall_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "info.log")
	done, err := Install(path, false)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	ctx := WithWorker(context.Background(), WorkerLabel{Index: 1, TokenPreview: "tok"})
	L(ctx).Info("chat sent", zap.String("model", "m1"))
	done()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), `"chat sent"`) || !strings.Contains(string(data), `"token":"tok"`) {
		t.Fatalf("unexpected log contents: %s", data)
	}
}

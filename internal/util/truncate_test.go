package util

import (
	"context"
	"testing"
	"time"
)

func TestTruncateLog_ShortString(t *testing.T) {
	input := "short log"
	result := TruncateLog(input, DefaultLogMaxLen)
	if result != input {
		t.Errorf("TruncateLog() should not truncate short strings, got %q", result)
	}
}

func TestTruncateLog_LongString(t *testing.T) {
	input := "1234567890abcdefghij"
	result := TruncateLog(input, 10)
	if result != "1234567890... [truncated, 20 bytes total]" {
		t.Errorf("TruncateLog() = %q", result)
	}
}

func TestTruncateBytes_LongBytes(t *testing.T) {
	input := make([]byte, 2000)
	for i := range input {
		input[i] = 'x'
	}
	result := TruncateBytes(input)
	if len(result) <= DefaultLogMaxLen {
		t.Errorf("TruncateBytes() result should be longer than maxLen due to suffix, got len=%d", len(result))
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{in: "hello", n: 10, want: "hello"},
		{in: "hello world", n: 5, want: "hello..."},
		{in: "你好世界", n: 2, want: "你好..."},
	}
	for _, tt := range tests {
		if got := Preview(tt.in, tt.n); got != tt.want {
			t.Errorf("Preview(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestMaskToken(t *testing.T) {
	if got := MaskToken("abcdefghijklmnop"); got != "abcdefgh" {
		t.Errorf("MaskToken() = %q, want abcdefgh", got)
	}
	if got := MaskToken("abc"); got != "abc" {
		t.Errorf("MaskToken() = %q, want abc", got)
	}
}

func TestIsVerbose(t *testing.T) {
	t.Setenv("CHAT_VERBOSE", "Yes")
	if !IsVerbose() {
		t.Error("expected verbose for 'Yes'")
	}
	t.Setenv("CHAT_VERBOSE", "")
	if IsVerbose() {
		t.Error("expected non-verbose for empty value")
	}
}

func TestSleepHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Hour); err == nil {
		t.Fatal("expected ctx error")
	}
	if time.Since(start) > time.Second {
		t.Fatal("sleep ignored cancellation")
	}
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
}

package util

import (
	"fmt"
	"os"
	"strings"
)

// DefaultLogMaxLen is the default maximum length for truncated log output.
const DefaultLogMaxLen = 1024

// PreviewLen is the length used for chat message previews in console logs.
const PreviewLen = 50

// TruncateLog truncates long strings for verbose logging.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// TruncateBytes is TruncateLog over a response body with DefaultLogMaxLen.
func TruncateBytes(b []byte) string {
	return TruncateLog(string(b), DefaultLogMaxLen)
}

// Preview shortens user-facing text to n runes and appends an ellipsis.
func Preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// MaskToken keeps the first 8 characters of a session token for log lines.
func MaskToken(t string) string {
	if len(t) <= 8 {
		return t
	}
	return t[:8]
}

// IsVerbose checks the CHAT_VERBOSE environment variable.
// Accepts: "1", "true", "yes" (case-insensitive)
func IsVerbose() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("CHAT_VERBOSE"))) {
	case "1", "true", "yes":
		return true
	}
	return false
}

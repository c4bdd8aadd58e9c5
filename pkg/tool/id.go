package tool

import (
	"strings"

	"github.com/google/uuid"
)

func GenerateUUIDV7() string {
	return uuid.Must(uuid.NewV7()).String()
}

const maxTraceIDLen = 64

// SanitizeTraceID returns a client supplied request id if it is short and
// limited to [A-Za-z0-9._-], otherwise "".
func SanitizeTraceID(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxTraceIDLen {
		return ""
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return ""
		}
	}
	return s
}

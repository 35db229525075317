package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSensitive(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		inAuth bool
		want   string
	}{
		{"plain command", `GETSCRIPT "vacation"`, false, `GETSCRIPT "vacation"`},
		{"authenticate with initial response", `AUTHENTICATE "PLAIN" "AGFsaWNlAHNlY3JldA=="`, false, `AUTHENTICATE "PLAIN" [REDACTED]`},
		{"lowercase authenticate", `authenticate "PLAIN" "abc"`, false, `authenticate "PLAIN" [REDACTED]`},
		{"authenticate without response", `AUTHENTICATE "PLAIN"`, false, `AUTHENTICATE "PLAIN"`},
		{"continuation during auth", `"AGFsaWNlAHNlY3JldA=="`, true, "[REDACTED]"},
		{"empty", "", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskSensitive(tt.line, tt.inAuth))
		})
	}
}

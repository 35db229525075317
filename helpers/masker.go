package helpers

import "strings"

// MaskSensitive redacts credentials from a ManageSieve command line before it
// is logged. For AUTHENTICATE everything after the mechanism is replaced; a
// bare continuation line (the client's SASL response) is redacted entirely
// when inAuth is true.
func MaskSensitive(line string, inAuth bool) string {
	if inAuth {
		return "[REDACTED]"
	}

	parts := strings.Fields(line)
	if len(parts) == 0 || !strings.EqualFold(parts[0], "AUTHENTICATE") {
		return line
	}

	// AUTHENTICATE "PLAIN" "<initial response>": keep the mechanism.
	if len(parts) > 2 {
		return strings.Join(parts[:2], " ") + " [REDACTED]"
	}
	return line
}

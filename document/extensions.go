package document

import (
	"fmt"
	"strings"
)

// SupportedExtensions lists the Sieve extensions the validator and the
// simulator understand. Core RFC 5228 commands (require, if/elsif/else, stop,
// redirect, keep, discard) are always available.
var SupportedExtensions = []string{
	"fileinto",          // RFC 5228
	"envelope",          // RFC 5228
	"encoded-character", // RFC 5228

	"comparator-i;octet",
	"comparator-i;ascii-casemap",
	"comparator-i;ascii-numeric",
	"comparator-i;unicode-casemap",

	"imap4flags", // RFC 5232
	"variables",  // RFC 5229
	"relational", // RFC 5231
	"vacation",   // RFC 5230
	"copy",       // RFC 3894
	"regex",      // draft-murchison-sieve-regex
}

// DefaultExtensions is the set enabled when nothing is configured.
var DefaultExtensions = []string{
	"fileinto",
	"vacation",
	"envelope",
	"imap4flags",
	"variables",
	"relational",
	"copy",
	"regex",
}

// ValidateExtensions reports configured extensions that are not supported.
func ValidateExtensions(extensions []string) error {
	supported := make(map[string]bool, len(SupportedExtensions))
	for _, ext := range SupportedExtensions {
		supported[ext] = true
	}

	var invalid []string
	for _, ext := range extensions {
		if !supported[ext] {
			invalid = append(invalid, ext)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid SIEVE extensions: %s (supported: %s)",
			strings.Join(invalid, ", "), strings.Join(SupportedExtensions, ", "))
	}
	return nil
}

// MissingExtensions returns the names in required that are not in enabled.
func MissingExtensions(required, enabled []string) []string {
	on := make(map[string]bool, len(enabled))
	for _, ext := range enabled {
		on[strings.ToLower(ext)] = true
	}
	var missing []string
	for _, ext := range required {
		if !on[strings.ToLower(ext)] {
			missing = append(missing, ext)
		}
	}
	return missing
}

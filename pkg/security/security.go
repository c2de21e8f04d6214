// Package security provides validation, sanitization, and limits for the sync engine.
package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shopglance/syncengine/pkg/core"
)

// Limits
const (
	// MaxKindNameLength is the maximum length for sync kind names
	MaxKindNameLength = 64

	// MaxTenantIDLength is the maximum length for tenant identifiers
	MaxTenantIDLength = 64

	// MaxTargetKeyLength is the maximum length for target keys
	MaxTargetKeyLength = 255

	// MaxPayloadSize is the maximum size in bytes for job payloads (1MB)
	MaxPayloadSize = 1 << 20

	// MaxRetriesLimit is the hard cap for per-job retry ceilings
	MaxRetriesLimit = 50

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096

	// MaxClaimBatchSize is the hard cap for jobs claimed per dispatch tick
	MaxClaimBatchSize = 100
)

// validName matches alphanumeric, hyphens, underscores, and dots
var validName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// validTenantID additionally allows a leading digit, since many billing
// systems hand out purely numeric account ids
var validTenantID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.]*$`)

// ValidateKindName validates a sync kind name
func ValidateKindName(name string) error {
	if name == "" {
		return core.ErrInvalidKindName
	}
	if len(name) > MaxKindNameLength {
		return core.ErrKindNameTooLong
	}
	if !validName.MatchString(name) {
		return core.ErrInvalidKindName
	}
	return nil
}

// ValidateTenantID validates a tenant identifier
func ValidateTenantID(id string) error {
	if id == "" {
		return core.ErrInvalidTenantID
	}
	if len(id) > MaxTenantIDLength {
		return core.ErrTenantIDTooLong
	}
	if !validTenantID.MatchString(id) {
		return core.ErrInvalidTenantID
	}
	return nil
}

// ValidateTargetKey validates a target key length. Empty keys are valid and
// mean "whole resource".
func ValidateTargetKey(key string) error {
	if len(key) > MaxTargetKeyLength {
		return core.ErrTargetKeyTooLong
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Strip null bytes and control characters (except newlines and tabs)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampRetries ensures a retry ceiling is within limits
func ClampRetries(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxRetriesLimit {
		return MaxRetriesLimit
	}
	return n
}

// ClampBatchSize ensures a claim batch size is within limits
func ClampBatchSize(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxClaimBatchSize {
		return MaxClaimBatchSize
	}
	return n
}

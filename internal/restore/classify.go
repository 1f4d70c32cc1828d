package restore

import (
	"errors"
	"net"
	"strings"
)

// Terminal categories never succeed on resubmission.
var terminalMarkers = []string{
	"required_field_missing",
	"field_custom_validation_exception",
	"duplicate_value",
	"invalid_cross_reference_key",
	"malformed_id",
	"invalid_field",
	"invalid_or_null_for_restricted_picklist",
	"string_too_long",
	"insufficient_access",
	"entity_is_deleted",
	"cannot_insert_update_activate_entity",
}

var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection reset",
	"temporarily unavailable",
	"unable_to_lock_row",
	"lock",
	"deadlock",
	"request_running_too_long",
	"request_timeout",
	"service unavailable",
	"service_temporarily_unavailable",
	"too many requests",
}

// Markers that only mean something on a failed submission, not on a record.
var connectionMarkers = []string{
	"connection refused",
	"no route to host",
	"network unreachable",
	"network is unreachable",
	"broken pipe",
	"unexpected eof",
	"429",
	"503",
	"504",
}

// IsRetryable reports whether a record failure message is transient.
// Terminal categories win over transient wording in the same message.
func IsRetryable(msg string) bool {
	lower := strings.ToLower(msg)
	if lower == "" {
		return false
	}
	for _, m := range terminalMarkers {
		if strings.Contains(lower, m) {
			return false
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return strings.Contains(lower, "concurrent") && strings.Contains(lower, "update")
}

// IsRetryableError reports whether a failed batch submission is worth repeating.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	msg := err.Error()
	if IsRetryable(msg) {
		return true
	}
	lower := strings.ToLower(msg)
	for _, m := range terminalMarkers {
		if strings.Contains(lower, m) {
			return false
		}
	}
	for _, m := range connectionMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

var categories = []struct{ marker, label string }{
	{"REQUIRED_FIELD_MISSING", "Required field missing"},
	{"FIELD_CUSTOM_VALIDATION_EXCEPTION", "Validation rule failed"},
	{"DUPLICATE_VALUE", "Duplicate value"},
	{"INVALID_CROSS_REFERENCE_KEY", "Invalid lookup reference"},
	{"MALFORMED_ID", "Malformed ID"},
	{"INVALID_OR_NULL_FOR_RESTRICTED_PICKLIST", "Invalid picklist value"},
	{"INVALID_FIELD", "Invalid field"},
	{"STRING_TOO_LONG", "String too long"},
	{"UNABLE_TO_LOCK_ROW", "Row lock conflict"},
	{"CANNOT_INSERT_UPDATE_ACTIVATE_ENTITY", "Trigger/process failure"},
	{"ENTITY_IS_DELETED", "Referenced record deleted"},
	{"INSUFFICIENT_ACCESS", "Insufficient access"},
}

// Categorize maps a failure message to a report category. Unknown messages
// are grouped by their first 50 characters.
func Categorize(msg string) string {
	for _, c := range categories {
		if strings.Contains(msg, c.marker) {
			return c.label
		}
	}
	if r := []rune(msg); len(r) > 50 {
		return string(r[:50]) + "..."
	}
	return msg
}

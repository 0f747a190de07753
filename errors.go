package blu

import (
	"encoding/json"
	"sort"
	"strings"
)

// The client collapses every failure into one of two shapes: a flat
// *GeneralError for toasts and banners, or FieldErrors for attaching
// validation messages to individual form fields.

// GeneralError is a flat, display-ready failure message.
type GeneralError struct {
	Message string
}

func (e *GeneralError) Error() string {
	return e.Message
}

// ErrOffline is returned when an operation is refused locally because the
// connectivity gate reports the network as down. No HTTP call is attempted.
var ErrOffline = &GeneralError{Message: "No Internet Connection"}

// FieldErrors maps form field names to per-field validation messages. The
// registration flow depends on receiving this shape to decorate its fields.
type FieldErrors map[string]string

func (e FieldErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e[k])
	}
	return strings.Join(parts, "; ")
}

// fieldErrorsFrom decides whether an error body's data payload is a
// field-keyed validation map: a JSON object whose values are all strings.
// Anything else falls through to the flat message path.
func fieldErrorsFrom(data json.RawMessage) (FieldErrors, bool) {
	if len(data) == 0 {
		return nil, false
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || len(raw) == 0 {
		return nil, false
	}
	fields := make(FieldErrors, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, false
		}
		fields[k] = s
	}
	return fields, true
}

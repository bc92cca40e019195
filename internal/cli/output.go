package cli

import (
	"encoding/json"
	"errors"
	"io"

	"capsule-go/internal/apperr"
)

// Exit codes for capsulectl.
const (
	ExitSuccess  = 0
	ExitFailure  = 1 // infrastructure or usage error
	ExitRejected = 2 // the operation was rejected with a typed error
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ReportError writes err to w as JSON and returns the process exit code for it.
func ReportError(w io.Writer, err error) int {
	if err == nil {
		return ExitSuccess
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		_ = writeJSON(w, map[string]any{"error": appErr})
		return ExitRejected
	}
	_ = writeJSON(w, map[string]any{"error": map[string]string{"message": err.Error()}})
	return ExitFailure
}

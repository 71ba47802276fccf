package main

import "errors"

// Command-level errors
var (
	// ErrConfigInvalid indicates --config names a file that exists but
	// could not be parsed, as opposed to simply not existing (which falls
	// back to defaults).
	ErrConfigInvalid = errors.New("configuration error")
)

// FormatUserError strips Go's default error-chain noise for the top-level
// CLI print: just the message, no wrapped %+v-style detail.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

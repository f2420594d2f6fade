package parser

import "errors"

// Sentinel errors classifying why ingestion of a file failed.
// Wrapped with fmt.Errorf("...: %w", ...) so callers can use
// errors.Is to bucket failures.
var (
	// ErrParse marks a file whose structure could not be read as
	// its source format at all (not a per-line skip).
	ErrParse = errors.New("parse error")

	// ErrRowDecode marks a Cursor store row whose payload could
	// not be decoded.
	ErrRowDecode = errors.New("row decode error")
)

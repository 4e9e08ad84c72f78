package llm

import (
	"errors"
	"fmt"
	"io"
)

// #region errors
var (
	// ErrCredentialMissing marks a candidate skipped for an absent or short key.
	ErrCredentialMissing = errors.New("credential missing or implausible")
	// ErrEmptyReply marks a well-formed payload without reply text.
	ErrEmptyReply = errors.New("empty reply")
)

// StatusError is a non-2xx response from a provider.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider status %d: %s", e.Code, e.Body)
}

// MaxErrorBodySize bounds how much of an error body is kept.
const MaxErrorBodySize = 2048

func readLimitedBody(r io.Reader, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, limit))
}
// #endregion errors

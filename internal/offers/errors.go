package offers

import (
	"errors"
	"fmt"
)

var (
	// ErrOfferNotFound is returned by a Gateway when no matching offer
	// exists. The Fetcher normalizes it to an absent result.
	ErrOfferNotFound = errors.New("offers: no matching offer found")

	// ErrSessionExpired indicates the remote session must be refreshed
	// before the call can succeed.
	ErrSessionExpired = errors.New("offers: session expired")
)

// ProtocolError is a rejection by the remote service at the protocol level.
// It is always permanent: no retry policy applies.
type ProtocolError struct {
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("offers: protocol rejection %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("offers: protocol rejection %d", e.Code)
}

// IsProtocolRejection reports whether err is a protocol-level rejection.
func IsProtocolRejection(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// RetriesExhaustedError is returned when the attempt cap was hit. It wraps
// the last underlying error.
type RetriesExhaustedError struct {
	Op       string
	Attempts int
	LastErr  error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("offers: %s failed after %d attempts: %v", e.Op, e.Attempts, e.LastErr)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.LastErr }

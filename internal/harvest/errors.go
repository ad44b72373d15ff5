package harvest

import (
	"errors"
	"fmt"
)

// ErrItemNotFound marks a resolution failure that must not be retried.
// It is terminal for the single item, never for the run.
var ErrItemNotFound = errors.New("item not found upstream")

// UpstreamCodeError reports a nonzero upstream response code that is neither
// success nor a recognized soft end.
type UpstreamCodeError struct {
	Code int
}

func (e *UpstreamCodeError) Error() string {
	return fmt.Sprintf("upstream returned code %d", e.Code)
}

package upstream

import "errors"

// Sentinel kinds for upstream failures. ErrUnauthorized is permanent for
// the configured credentials; ErrFetch is expected to clear on retry.
var (
	ErrUnauthorized = errors.New("upstream rejected credentials")
	ErrFetch        = errors.New("upstream fetch failed")
)

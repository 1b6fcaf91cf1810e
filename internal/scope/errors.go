package scope

import "errors"

// ErrInvalidKey marks a malformed scope key so callers can map it to a
// validation failure instead of a persistence one.
var ErrInvalidKey = errors.New("invalid scope key")

package digest

import "errors"

var errLength = errors.New("digest must be 32 bytes")

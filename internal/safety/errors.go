package safety

import "errors"

// ErrDegradedCapability is reported when the optional equipment model is
// unavailable. The engine keeps running with equipment checks disabled.
var ErrDegradedCapability = errors.New("degraded capability: equipment detection disabled")

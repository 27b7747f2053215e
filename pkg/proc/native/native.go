// Package native provides the platform implementation of the process
// access capability. One implementation is selected per platform at build
// time; platforms without support return ErrNativeUnsupported from New.
package native

import "errors"

// ErrNativeUnsupported is returned by New on platforms without a native
// process access implementation.
var ErrNativeUnsupported = errors.New("native process access not supported on this platform")

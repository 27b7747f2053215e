//go:build !linux

package native

import "github.com/memscout/memscout/pkg/proc"

// New returns ErrNativeUnsupported on platforms without an accessor
// implementation.
func New() (proc.Accessor, error) {
	return nil, ErrNativeUnsupported
}

package modules

import (
	"errors"
	"fmt"
	"strings"
)

// ResolveError is returned when a specifier cannot be resolved or loaded.
type ResolveError struct {
	Specifier string
	Importer  string
	Err       error
}

func (e *ResolveError) Error() string {
	if e.Importer != "" {
		return fmt.Sprintf("resolve %q from %s: %v", e.Specifier, e.Importer, e.Err)
	}
	return fmt.Sprintf("resolve %q: %v", e.Specifier, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// CycleError is returned when an import would re-enter a module that is
// still loading on the same import chain, or would wait on a load that is
// itself waiting on the importer.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("import cycle: %s", strings.Join(e.Chain, " -> "))
}

// ErrNotFound is wrapped by ResolveError when nothing matches a specifier.
var ErrNotFound = errors.New("module not found")

// ErrLoading is wrapped by ResolveError when a module is still loading on
// a suspended fiber and the importer cannot wait for it because it is not
// running on a fiber itself.
var ErrLoading = errors.New("module is still loading")

// IsCycleError reports whether err is or wraps a CycleError.
func IsCycleError(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

package validator

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrMissingDeps is wrapped by Validate when a required dependency is unset.
var ErrMissingDeps = errors.New("missing required deps")

// Validate checks that every dep of the named component is set. Nil pointers,
// interfaces, maps, slices, chans and funcs are rejected, as are zero values of
// any other kind (empty strings, zero sizes).
func Validate(name string, deps ...any) error {
	for i, dep := range deps {
		if missing(dep) {
			return fmt.Errorf("%w for component %s (dep #%d)", ErrMissingDeps, name, i)
		}
	}

	return nil
}

func missing(dep any) bool {
	if dep == nil {
		return true
	}

	v := reflect.ValueOf(dep)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return v.IsNil()
	default:
		return v.IsZero()
	}
}

package validator

import (
	"fmt"
	"reflect"
)

// Validate rejects partially wired components. A dependency is missing when it
// is nil, an empty map or slice, or the zero value of a scalar type. Struct
// values are always accepted since stateless implementations are zero.
func Validate(name string, deps ...any) error {
	for i, dep := range deps {
		if missing(dep) {
			return fmt.Errorf("missing required deps for component: %s (dependency %d)", name, i)
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
	case reflect.Pointer, reflect.Interface, reflect.Func, reflect.Chan:
		return v.IsNil()
	case reflect.Map, reflect.Slice:
		return v.Len() == 0
	case reflect.Struct:
		return false
	default:
		return v.IsZero()
	}
}

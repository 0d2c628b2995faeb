package engine

import "fmt"

// UnknownAttributeError is returned when a value is added to an attribute
// that the node neither holds nor declares, directly or by inheritance.
type UnknownAttributeError struct {
	ID        int64
	NestedID  int64
	Attribute string
}

func (e *UnknownAttributeError) Error() string {
	return fmt.Sprintf("item %d/%d: unknown attribute %q", e.ID, e.NestedID, e.Attribute)
}

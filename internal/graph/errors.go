package graph

import (
	"errors"
	"fmt"
)

// ErrUnknownNode is returned when a query names a node that is neither a key
// of the graph nor referenced as anyone's successor.
var ErrUnknownNode = errors.New("unknown node")

// UnknownNodeError carries the name of the node that could not be resolved.
type UnknownNodeError struct {
	Node string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownNode, e.Node)
}

// Is makes errors.Is(err, ErrUnknownNode) match.
func (e *UnknownNodeError) Is(target error) bool {
	return target == ErrUnknownNode
}

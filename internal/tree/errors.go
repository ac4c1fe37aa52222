package tree

import "errors"

// Structural precondition failures. They are always returned before any
// mutating storage call, so a failed operation leaves the tree untouched.
var (
	ErrNodeNotFound      = errors.New("node not found")
	ErrParentNotFound    = errors.New("parent node not found")
	ErrHasChildren       = errors.New("node has children")
	ErrRootAlreadyExists = errors.New("root node already exists")
	ErrInvalidMove       = errors.New("node cannot be moved under itself or a descendant")
	ErrSegmentOverflow   = errors.New("sibling ordinal exceeds path segment width")
)

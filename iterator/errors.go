package iterator

import "errors"

// ErrCursorSyntax is returned by Thaw for malformed serialized cursors.
var ErrCursorSyntax = errors.New("syntax error in serialized cursor")

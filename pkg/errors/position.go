package errors

import "fmt"

// Position represents a specific location in the source code.
// Runtime errors raised by the core carry the zero Position; positions are
// filled in by the front end when it has them.
type Position struct {
	Line     int // 1-based line number
	Column   int // 1-based column number (rune index within the line)
	StartPos int // 0-based byte offset of the start of the span
	EndPos   int // 0-based byte offset of the end of the span (exclusive)
}

// IsZero reports whether the position carries no location.
func (p Position) IsZero() bool {
	return p.Line == 0 && p.Column == 0
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

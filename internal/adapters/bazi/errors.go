package bazi

import (
	"errors"
	"fmt"
	"strings"
)

// Error definitions for the bazi adapter.
var (
	ErrUnknownSection  = errors.New("unknown section")
	ErrUnexpectedLine  = errors.New("unexpected line")
	ErrUnterminated    = errors.New("missing =END= marker")
	ErrInvalidName     = errors.New("invalid name")
	ErrInvalidNumber   = errors.New("invalid number")
	ErrDuplicate       = errors.New("duplicate entry")
	ErrUnknownCharset  = errors.New("unknown charset")
	ErrUnknownCell     = errors.New("reference names an unknown district or party")
	ErrSeatsMismatched = errors.New("seats differ from reference")
)

// LineError reports a decoding failure with its 1-based line number.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("bazi: line %d: %v", e.Line, e.Err) }

func (e *LineError) Unwrap() error { return e.Err }

// Mismatch is one cell where the engine and the reference tool disagree.
type Mismatch struct {
	District string `json:"district"`
	Party    string `json:"party"`
	Got      int    `json:"got"`
	Want     int    `json:"want"`
}

// MismatchError lists every differing cell.
type MismatchError struct {
	Cells []Mismatch
}

func (e *MismatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v: %d cells", ErrSeatsMismatched, len(e.Cells))
	for i, m := range e.Cells {
		if i == 5 {
			b.WriteString(", ...")
			break
		}
		fmt.Fprintf(&b, ", %s/%s got %d want %d", m.District, m.Party, m.Got, m.Want)
	}
	return b.String()
}

func (e *MismatchError) Unwrap() error { return ErrSeatsMismatched }

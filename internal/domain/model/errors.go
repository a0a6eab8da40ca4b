package model

import "errors"

// Sentinel kinds for malformed apportionment input. The engine reports all of
// them as configuration errors.
var (
	ErrEmptyInput    = errors.New("empty district or party set")
	ErrDuplicateID   = errors.New("duplicate identifier")
	ErrUnknownKey    = errors.New("unknown district or party key")
	ErrMissingCell   = errors.New("missing vote cell")
	ErrNegativeValue = errors.New("negative votes or seats")
	ErrDimension     = errors.New("dimension mismatch")
)

package util

import "errors"

var (
	errNilArgument        = errors.New("util: required argument is nil")
	errInvalidTickRange   = errors.New("util: tickLower must be less than tickUpper")
	errInvalidTickSpacing = errors.New("util: tickSpacing must be positive")
	errInvalidRangeWidth  = errors.New("util: rangeWidth must be positive")
)

package ratecontroller

import "errors"

// ErrInvalidConfig is returned by New when the configuration is inconsistent.
var ErrInvalidConfig = errors.New("invalid rate controller configuration")

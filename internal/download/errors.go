package download

import "errors"

var (
	ErrInvalidWindowSize  = errors.New("window size must be at least 1")
	ErrNoPriorities       = errors.New("priorities sink is required")
	ErrOverlappingRegions = errors.New("header, body and footer regions overlap")
)

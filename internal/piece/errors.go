package piece

import "errors"

var (
	ErrNoPieces      = errors.New("piece list is empty")
	ErrInvalidLength = errors.New("invalid piece length")
	ErrNotContiguous = errors.New("pieces are not contiguous")
)

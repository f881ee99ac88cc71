package escrow

import "errors"

var (
	ErrNotFound        = errors.New("escrow: not found")
	ErrUnauthorized    = errors.New("escrow: actor not authorized for this action")
	ErrInvalidState    = errors.New("escrow: transition not allowed from current status")
	ErrAlreadyFunded   = errors.New("escrow: job already funded")
	ErrAlreadyAssigned = errors.New("escrow: job already has a freelancer")
	ErrInvalidSplit    = errors.New("escrow: split percentages must sum to 100")
	ErrInvalidInput    = errors.New("escrow: invalid input")
	ErrConflict        = errors.New("escrow: job modified concurrently")
)

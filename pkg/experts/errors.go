package experts

import "errors"

var (
	ErrUnknownExpert = errors.New("experts: unknown expert")
	ErrUnknownSpread = errors.New("experts: unknown spread")
)

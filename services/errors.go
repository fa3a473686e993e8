package services

import (
	"errors"

	"postvolve/models"
)

var (
	ErrNotFound          = models.ErrNotFound
	ErrLimitReached      = errors.New("plan limit reached")
	ErrInvalidState      = models.ErrInvalidState
	ErrInvalidPlan       = errors.New("invalid plan")
	ErrBillingDisabled   = errors.New("billing is disabled")
	ErrInvalidSignature  = errors.New("invalid webhook signature")
	ErrInvalidOAuthState = errors.New("invalid or expired oauth state")
	ErrGenerationOff     = errors.New("content generation is not configured")
)

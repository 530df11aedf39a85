package model

import "errors"

// Shared error conditions surfaced across package boundaries. Packages that
// own a single condition keep it local (store.ErrNotFound,
// adapt.ErrAdaptationFailed, generate.ErrGenerationFailed); these two are
// produced and checked in several places.
var (
	// ErrInvalidInput marks a malformed request, e.g. an empty generation
	// prompt or an unsupported content format. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrServiceUnavailable marks a transient failure of the external
	// generation service. Callers fall back, they do not retry here.
	ErrServiceUnavailable = errors.New("generation service unavailable")
)

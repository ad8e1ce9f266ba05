package domain

import "errors"

var (
	// ErrCorpusFormat is returned when a corpus record is malformed. No
	// partial corpus is emitted.
	ErrCorpusFormat = errors.New("malformed corpus record")

	// ErrDegenerateVector is returned for an embedding whose norm is ~0.
	ErrDegenerateVector = errors.New("degenerate embedding vector")

	// ErrIndexUnavailable is returned when the persisted index and sentence
	// sequence are missing, unreadable or out of step with each other.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrPromptTooLarge is returned when the preamble and query alone exceed
	// the prompt budget.
	ErrPromptTooLarge = errors.New("prompt too large")

	ErrSessionNotFound = errors.New("session not found")
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrBuildInProgress = errors.New("index build already in progress")
)

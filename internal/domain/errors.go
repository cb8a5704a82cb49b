package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no session matches the given id or PIN.
	ErrSessionNotFound = errors.New("game session not found")
	// ErrPlayerNotFound is returned when a player acts in a session they never joined.
	ErrPlayerNotFound = errors.New("player not found in session")
	// ErrQuizNotFound indicates the quiz definition could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrChoiceNotFound indicates a submitted choice ID is not part of the question.
	ErrChoiceNotFound = errors.New("choice not found")
	// ErrInvalidTransition is returned when a command's guard fails; state is unchanged.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrDuplicateAnswer is returned on a second submission for the same question index.
	ErrDuplicateAnswer = errors.New("answer already submitted for this question")
	// ErrRegistryExhausted is returned when no free PIN remains for a new session.
	ErrRegistryExhausted = errors.New("pin space exhausted")
)

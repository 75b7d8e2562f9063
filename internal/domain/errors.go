package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrMalformedQuiz indicates the quiz document failed validation; fatal for the session.
	ErrMalformedQuiz = errors.New("malformed quiz")
	// ErrSessionNotFound is returned when a viewer session has not been opened.
	ErrSessionNotFound = errors.New("viewer session not found")
	// ErrItemNotFound indicates a submitted item id is not part of the quiz.
	ErrItemNotFound = errors.New("item not found")
	// ErrDuplicateAttempt means the attempt nonce was already recorded; callers
	// treat it as idempotent success, not a failure.
	ErrDuplicateAttempt = errors.New("attempt already recorded")
)

package models

import "errors"

// Error taxonomy shared by the pipeline. Callers match with errors.Is;
// producers wrap with fmt.Errorf("%w: ...").
var (
	// ErrConfiguration missing credentials or settings for an external collaborator
	ErrConfiguration = errors.New("configuration error")
	// ErrFetch external post retrieval failed; aborts the query
	ErrFetch = errors.New("fetch error")
	// ErrAnnotation per-post scoring or insight failure; absorbed as a placeholder
	ErrAnnotation = errors.New("annotation error")
	// ErrCacheIO unreadable or malformed cache / result file
	ErrCacheIO = errors.New("cache io error")
	// ErrValidation bad query input, rejected before any external call
	ErrValidation = errors.New("validation error")
)

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks fatal configuration problems: invalid chunk
	// parameters, dimension or metric mismatches. Never retried.
	ErrConfiguration = errors.New("configuration error")

	ErrEmbeddingFailed  = errors.New("embedding failed")
	ErrGenerationFailed = errors.New("generation failed")

	// ErrEmptyIndex is returned by a search with k > 0 on an index without entries.
	ErrEmptyIndex = errors.New("index is empty")
	// ErrNoCorpus is the user-facing form of an empty or missing index.
	ErrNoCorpus = errors.New("no corpus indexed yet; build the index first")
	// ErrFormat marks a persisted index artifact that cannot be trusted.
	ErrFormat = errors.New("invalid index artifact")

	ErrEmptyQuestion = errors.New("question must not be empty")
	// ErrNoDocuments is returned by a build whose source yields no text.
	ErrNoDocuments = errors.New("no documents with text found")
)

// Configf returns an error wrapping ErrConfiguration.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// DimensionMismatchError reports a vector whose length differs from the index dimension.
// Position is the offending entry's position in the build input, or -1 for a query vector.
type DimensionMismatchError struct {
	Position int
	Want     int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	if e.Position < 0 {
		return fmt.Sprintf("dimension mismatch: query vector has %d dimensions, index has %d", e.Got, e.Want)
	}
	return fmt.Sprintf("dimension mismatch: entry %d has %d dimensions, want %d", e.Position, e.Got, e.Want)
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrConfiguration }

// ProviderError wraps a failure of an external collaborator. Kind is
// ErrEmbeddingFailed or ErrGenerationFailed; both Kind and the cause are
// reachable through errors.Is.
type ProviderError struct {
	Kind     error
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%v (%s): %v", e.Kind, e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() []error { return []error{e.Kind, e.Err} }

// FormatError reports a corrupt, truncated or inconsistent index artifact.
type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%v %s: %s", ErrFormat, e.Path, e.Reason)
}

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// IOError reports a filesystem failure while persisting or loading an index.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err) }

func (e *IOError) Unwrap() error { return e.Err }

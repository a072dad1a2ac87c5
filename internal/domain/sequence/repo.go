package sequence

import "context"

type Repository interface {
	// Advance reads the active counter for entity under an exclusive lock,
	// passes its last code to next and stores the result. It returns
	// ErrCounterNotFound when no active counter exists.
	Advance(ctx context.Context, entity string, next func(last string) (string, error)) (string, error)
	// Seed creates a counter if none exists and reports whether it did.
	Seed(ctx context.Context, entity, initialCode string) (bool, error)
	Get(ctx context.Context, entity string) (*Counter, error)
	List(ctx context.Context) ([]*Counter, error)
}

package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/db"
	"github.com/WorksforMEdoYou/COMPLETE-ICARE-sub001/internal/platform/telemetry"
)

const defaultBackoff = 20 * time.Millisecond

type Service struct {
	repo       Repository
	tx         db.TxRunner
	maxRetries int
	backoff    time.Duration
	metrics    *telemetry.TelemetryProvider
}

func NewService(repo Repository, tx db.TxRunner, maxRetries int) *Service {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Service{repo: repo, tx: tx, maxRetries: maxRetries, backoff: defaultBackoff}
}

// WithMetrics records issued codes and retries on tp.
func (s *Service) WithMetrics(tp *telemetry.TelemetryProvider) *Service {
	s.metrics = tp
	if tp != nil {
		tp.Describe("allocator_codes_total", "Entity codes issued by the sequence allocator.")
		tp.Describe("allocator_retries_total", "Allocation attempts retried after a transient storage error.")
	}
	return s
}

// Allocate issues the next code for entity. Called with a ctx that already
// carries a transaction it runs once inside it and leaves retrying to the
// caller; otherwise it owns the transaction and retries transient failures.
func (s *Service) Allocate(ctx context.Context, entity string) (string, error) {
	if entity == "" {
		return "", fmt.Errorf("%w: entity name is required", ErrCounterNotFound)
	}
	owned := !db.InTransaction(ctx)
	attempts := 1
	if owned {
		attempts += s.maxRetries
	}

	for attempt := 1; ; attempt++ {
		code, err := s.allocateOnce(ctx, entity, owned)
		if err == nil {
			s.count("allocator_codes_total", entity)
			return code, nil
		}
		if errors.Is(err, ErrCounterNotFound) || errors.Is(err, ErrMalformedCounter) {
			return "", err
		}
		if !owned || attempt >= attempts || !db.IsRetryable(err) {
			return "", &AllocationError{Entity: entity, Attempts: attempt, Err: err}
		}
		s.count("allocator_retries_total", entity)

		select {
		case <-ctx.Done():
			return "", &AllocationError{Entity: entity, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(s.backoff * time.Duration(attempt)):
		}
	}
}

func (s *Service) allocateOnce(ctx context.Context, entity string, owned bool) (string, error) {
	if !owned {
		return s.repo.Advance(ctx, entity, NextCode)
	}
	var code string
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		code, err = s.repo.Advance(ctx, entity, NextCode)
		return err
	})
	return code, err
}

func (s *Service) count(name, entity string) {
	if s.metrics != nil {
		s.metrics.Inc(name, telemetry.L("entity", entity))
	}
}

// Seed creates the counter for entity starting at initialCode. An existing
// counter is left untouched and reported with created=false.
func (s *Service) Seed(ctx context.Context, entity, initialCode string) (bool, error) {
	if entity == "" {
		return false, fmt.Errorf("entity name is required")
	}
	if _, err := ParseCode(initialCode); err != nil {
		return false, err
	}
	return s.repo.Seed(ctx, entity, initialCode)
}

func (s *Service) Get(ctx context.Context, entity string) (*Counter, error) {
	return s.repo.Get(ctx, entity)
}

func (s *Service) List(ctx context.Context) ([]*Counter, error) {
	return s.repo.List(ctx)
}

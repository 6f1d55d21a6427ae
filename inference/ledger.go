package inference

import (
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
)

// Ledger accounts for every tensor created during inference. Tensors are
// registered with a Scope and released exactly once when the scope ends,
// whether the work inside it succeeded, failed or panicked.
type Ledger struct {
	created  atomic.Int64
	released atomic.Int64
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Scope runs fn with a fresh scope and releases every tensor tracked in it
// when fn returns. Release errors are combined with fn's error.
//
// Arguments:
//   - fn: The unit of work. Tensors it creates must be passed to Scope.Track.
//
// Returns:
//   - error: fn's error combined with any release errors.
//
// @example
//
//	err := ledger.Scope(func(s *inference.Scope) error {
//		input := s.Track(tensor)
//		_, err := model.Execute(ctx, s, input)
//		return err
//	})
func (l *Ledger) Scope(fn func(s *Scope) error) (err error) {
	s := &Scope{ledger: l}
	defer func() {
		err = multierr.Append(err, s.release())
	}()

	return fn(s)
}

// Created returns the number of tensors ever tracked.
func (l *Ledger) Created() int64 {
	return l.created.Load()
}

// Released returns the number of tracked tensors that have been released.
func (l *Ledger) Released() int64 {
	return l.released.Load()
}

// Live returns the number of tracked tensors not yet released.
func (l *Ledger) Live() int64 {
	return l.Created() - l.Released()
}

// Scope collects the tensors created by one unit of work.
type Scope struct {
	ledger  *Ledger
	mu      sync.Mutex
	tracked []*trackedTensor
	closed  bool
}

// Track registers t with the scope and returns a handle whose Release is
// idempotent. Tracking a tensor twice returns the existing handle. Tracking
// after the scope has ended releases t immediately, and the handle's Release
// reports ErrScopeClosed.
func (s *Scope) Track(t Tensor) Tensor {
	if t == nil {
		return nil
	}
	if tt, ok := t.(*trackedTensor); ok && tt.ledger == s.ledger {
		return tt
	}

	tt := &trackedTensor{Tensor: t, ledger: s.ledger}
	s.ledger.created.Add(1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		tt.release(ErrScopeClosed)
		return tt
	}
	s.tracked = append(s.tracked, tt)
	s.mu.Unlock()

	return tt
}

// Len returns the number of tensors tracked by the scope.
func (s *Scope) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracked)
}

// release frees tracked tensors in reverse creation order.
func (s *Scope) release() error {
	s.mu.Lock()
	tracked := s.tracked
	s.tracked = nil
	s.closed = true
	s.mu.Unlock()

	var err error
	for i := len(tracked) - 1; i >= 0; i-- {
		err = multierr.Append(err, tracked[i].Release())
	}
	return err
}

type trackedTensor struct {
	Tensor
	ledger *Ledger
	once   sync.Once
	err    error
}

func (t *trackedTensor) Release() error {
	t.release(nil)
	return t.err
}

func (t *trackedTensor) release(cause error) {
	t.once.Do(func() {
		t.err = multierr.Append(cause, t.Tensor.Release())
		t.ledger.released.Add(1)
	})
}

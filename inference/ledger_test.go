package inference

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTensor struct {
	releases int
	err      error
}

func (c *countingTensor) Shape() Shape        { return NewShape(1) }
func (c *countingTensor) Float32s() []float32 { return []float32{0} }
func (c *countingTensor) Release() error {
	c.releases++
	return c.err
}

func TestLedger_ReleasesOnSuccess(t *testing.T) {
	ledger := NewLedger()
	a, b := &countingTensor{}, &countingTensor{}

	err := ledger.Scope(func(s *Scope) error {
		s.Track(a)
		s.Track(b)
		assert.Equal(t, int64(2), ledger.Live())
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, a.releases)
	assert.Equal(t, 1, b.releases)
	assert.Equal(t, int64(2), ledger.Created())
	assert.Equal(t, int64(2), ledger.Released())
	assert.Equal(t, int64(0), ledger.Live())
}

func TestLedger_ReleasesOnError(t *testing.T) {
	ledger := NewLedger()
	a := &countingTensor{}
	boom := errors.New("boom")

	err := ledger.Scope(func(s *Scope) error {
		s.Track(a)
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.releases)
	assert.Equal(t, int64(0), ledger.Live())
}

func TestLedger_ReleasesOnPanic(t *testing.T) {
	ledger := NewLedger()
	a := &countingTensor{}

	assert.Panics(t, func() {
		_ = ledger.Scope(func(s *Scope) error {
			s.Track(a)
			panic("backend crashed")
		})
	})

	assert.Equal(t, 1, a.releases)
	assert.Equal(t, int64(0), ledger.Live())
}

func TestLedger_ExactlyOnce(t *testing.T) {
	ledger := NewLedger()
	a := &countingTensor{}

	err := ledger.Scope(func(s *Scope) error {
		tracked := s.Track(a)
		assert.Same(t, tracked, s.Track(tracked), "re-tracking must return the same handle")
		require.NoError(t, tracked.Release())
		require.NoError(t, tracked.Release())
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, a.releases, "early release must not be repeated at scope end")
	assert.Equal(t, int64(1), ledger.Created())
	assert.Equal(t, int64(1), ledger.Released())
}

func TestLedger_CombinesReleaseErrors(t *testing.T) {
	ledger := NewLedger()
	bad := &countingTensor{err: errors.New("destroy failed")}

	err := ledger.Scope(func(s *Scope) error {
		s.Track(bad)
		s.Track(&countingTensor{})
		return errors.New("execute failed")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute failed")
	assert.Contains(t, err.Error(), "destroy failed")
	assert.Equal(t, int64(0), ledger.Live())
}

func TestLedger_TrackAfterScopeEnds(t *testing.T) {
	ledger := NewLedger()
	var leaked *Scope
	require.NoError(t, ledger.Scope(func(s *Scope) error {
		leaked = s
		return nil
	}))

	a := &countingTensor{}
	handle := leaked.Track(a)
	assert.Equal(t, 1, a.releases)
	assert.Equal(t, int64(0), ledger.Live())

	assert.ErrorIs(t, handle.Release(), ErrScopeClosed)
	assert.Equal(t, 1, a.releases, "late tensors are still released once")
}

func TestHostTensor(t *testing.T) {
	_, err := NewHostTensor(NewShape(1, 2, 2, 3), make([]float32, 11))
	assert.True(t, IsShapeError(err))

	ht, err := NewFilledTensor(NewShape(1, 2, 2, 3), 1)
	require.NoError(t, err)
	assert.Equal(t, NewShape(1, 2, 2, 3), ht.Shape())
	assert.Len(t, ht.Float32s(), 12)
	assert.Equal(t, float32(1), ht.Float32s()[11])
	assert.Equal(t, []int{1, 2, 2, 3}, []int(ht.Dense().Shape()))

	require.NoError(t, ht.Release())
	assert.Nil(t, ht.Float32s())
	assert.ErrorIs(t, ht.Release(), ErrReleased)
}

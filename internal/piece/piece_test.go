package piece

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	pieces, err := Build(10*1024+100, 1024)
	require.NoError(t, err)
	require.Len(t, pieces, 11)

	assert.Equal(t, int64(0), pieces[0].Offset)
	assert.Equal(t, int64(1023), pieces[0].LastByte())
	assert.Equal(t, int64(100), pieces[10].Size)
	assert.Equal(t, int64(10*1024+100), TotalSize(pieces))
	assert.NoError(t, Validate(pieces))

	for _, p := range pieces {
		assert.Equal(t, NotAvailable, p.State.Load())
	}
}

func TestBuildRejectsBadLengths(t *testing.T) {
	_, err := Build(0, 1024)
	assert.ErrorIs(t, err, ErrInvalidLength)

	_, err = Build(1024, 0)
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestValidate(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.ErrorIs(t, Validate(nil), ErrNoPieces)
	})

	t.Run("gap", func(t *testing.T) {
		pieces := []*Piece{
			{Index: 0, Offset: 0, Size: 10},
			{Index: 1, Offset: 11, Size: 10},
		}
		assert.ErrorIs(t, Validate(pieces), ErrNotContiguous)
	})

	t.Run("overlap", func(t *testing.T) {
		pieces := []*Piece{
			{Index: 0, Offset: 0, Size: 10},
			{Index: 1, Offset: 5, Size: 10},
		}
		assert.ErrorIs(t, Validate(pieces), ErrNotContiguous)
	})

	t.Run("out of order", func(t *testing.T) {
		pieces := []*Piece{
			{Index: 1, Offset: 0, Size: 10},
			{Index: 0, Offset: 10, Size: 10},
		}
		assert.ErrorIs(t, Validate(pieces), ErrNotContiguous)
	})

	t.Run("zero size", func(t *testing.T) {
		pieces := []*Piece{{Index: 0, Offset: 0, Size: 0}}
		assert.ErrorIs(t, Validate(pieces), ErrInvalidLength)
	})
}

func TestIndexAt(t *testing.T) {
	pieces, err := Build(4000, 1000)
	require.NoError(t, err)

	assert.Equal(t, 0, IndexAt(pieces, -5))
	assert.Equal(t, 0, IndexAt(pieces, 0))
	assert.Equal(t, 0, IndexAt(pieces, 999))
	assert.Equal(t, 1, IndexAt(pieces, 1000))
	assert.Equal(t, 3, IndexAt(pieces, 3999))
	assert.Equal(t, 3, IndexAt(pieces, 10000))
}

func TestStateCellBroadcastsTransitions(t *testing.T) {
	var c StateCell
	changed := c.Changed()

	c.Store(Downloading)
	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("expected Changed to fire on transition")
	}
	assert.Equal(t, Downloading, c.Load())

	same := c.Changed()
	c.Store(Downloading)
	select {
	case <-same:
		t.Fatal("storing the same state must not broadcast")
	default:
	}
}

func TestPrioritiesFunc(t *testing.T) {
	var got []int
	var p Priorities = PrioritiesFunc(func(indexes []int) { got = indexes })
	p.DownloadOnly([]int{1, 2})
	assert.Equal(t, []int{1, 2}, got)
}

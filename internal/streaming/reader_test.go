package streaming

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seqtorrent/internal/engine"
	"seqtorrent/internal/piece"
)

type sink struct {
	mu          sync.Mutex
	downloading map[int]bool
	seeks       []int
}

func (s *sink) IsDownloading(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloading[i]
}

func (s *sink) OnSeek(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeks = append(s.seeks, i)
	s.downloading = map[int]bool{i: true}
}

type nopCloser struct{ *bytes.Reader }

func (nopCloser) Close() error { return nil }

// Two files of 100 and 300 bytes over pieces of 64 bytes.
func newTestReader(t *testing.T, s *sink) (*Reader, []byte) {
	t.Helper()
	data := bytes.Repeat([]byte("0123456789"), 40)
	pieces, err := piece.Build(int64(len(data)), 64)
	require.NoError(t, err)
	file := engine.File{Index: 1, Path: "b.mkv", Offset: 100, Length: 300}
	r := NewReader(nopCloser{bytes.NewReader(data[100:])}, file, pieces, s, zerolog.Nop())
	return r, data[100:]
}

func TestReaderFirstReadNotifies(t *testing.T) {
	s := &sink{downloading: map[int]bool{0: true}}
	r, want := newTestReader(t, s)

	buf := make([]byte, 10)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, want[:n], buf[:n])
	// File offset 100 is in piece 1.
	assert.Equal(t, []int{1}, s.seeks)
}

func TestReaderSeekIsDeferredToRead(t *testing.T) {
	s := &sink{downloading: map[int]bool{1: true}}
	r, want := newTestReader(t, s)

	_, err := r.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	_, err = r.Seek(200, io.SeekStart)
	require.NoError(t, err)
	assert.Empty(t, s.seeks, "seeks alone must not move the window")

	buf := make([]byte, 5)
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, want[200:205], buf)
	// Absolute offset 300 is in piece 4.
	assert.Equal(t, []int{4}, s.seeks)

	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, s.seeks, "sequential reads do not notify")
}

func TestReaderSkipsPiecesAlreadyRequested(t *testing.T) {
	s := &sink{downloading: map[int]bool{1: true, 2: true}}
	r, _ := newTestReader(t, s)

	_, err := r.Seek(50, io.SeekStart)
	require.NoError(t, err)
	_, err = r.Read(make([]byte, 1))
	require.NoError(t, err)
	assert.Empty(t, s.seeks)
}

func TestReaderPieceAt(t *testing.T) {
	r, _ := newTestReader(t, &sink{})

	assert.Equal(t, 1, r.PieceAt(0))
	assert.Equal(t, 6, r.PieceAt(299))
	assert.Equal(t, -1, r.PieceAt(300))
	assert.Equal(t, -1, r.PieceAt(-1))
}

func TestReaderClose(t *testing.T) {
	r, _ := newTestReader(t, &sink{})
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err := r.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = r.Seek(0, io.SeekStart)
	assert.ErrorIs(t, err, ErrClosed)
}

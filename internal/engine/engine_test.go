package engine

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockHandle struct {
	mock.Mock
}

func (m *mockHandle) ID() HandleID       { return HandleID(m.Called().Int(0)) }
func (m *mockHandle) PostStatusUpdates() { m.Called() }
func (m *mockHandle) PostSaveResume()    { m.Called() }
func (m *mockHandle) SetPieceDeadline(index int, deadline time.Duration) {
	m.Called(index, deadline)
}
func (m *mockHandle) ClearPieceDeadlines() { m.Called() }
func (m *mockHandle) AddTracker(url string, tier int, failLimit int) {
	m.Called(url, tier, failLimit)
}
func (m *mockHandle) SetWantedPieces(indexes []int) { m.Called(indexes) }
func (m *mockHandle) NewReader(fileIndex int) (io.ReadSeekCloser, error) {
	args := m.Called(fileIndex)
	r, _ := args.Get(0).(io.ReadSeekCloser)
	return r, args.Error(1)
}

func TestNewPrioritiesOrdersCalls(t *testing.T) {
	h := &mockHandle{}
	var order []string
	h.On("ClearPieceDeadlines").Run(func(mock.Arguments) { order = append(order, "clear") }).Once()
	h.On("SetWantedPieces", []int{4, 5, 15}).Run(func(mock.Arguments) { order = append(order, "wanted") }).Once()
	h.On("SetPieceDeadline", 4, 100*time.Millisecond).Once()
	h.On("SetPieceDeadline", 5, 150*time.Millisecond).Once()
	h.On("SetPieceDeadline", 15, 200*time.Millisecond).Once()

	p := NewPriorities(h, DeadlinePolicy{Base: 100 * time.Millisecond, Step: 50 * time.Millisecond})
	p.DownloadOnly([]int{4, 5, 15})

	h.AssertExpectations(t)
	assert.Equal(t, []string{"clear", "wanted"}, order)
}

func TestNewPrioritiesEmptySet(t *testing.T) {
	h := &mockHandle{}
	h.On("ClearPieceDeadlines").Once()
	h.On("SetWantedPieces", []int{}).Once()

	NewPriorities(h, DefaultDeadlinePolicy()).DownloadOnly([]int{})

	h.AssertExpectations(t)
	h.AssertNotCalled(t, "SetPieceDeadline", mock.Anything, mock.Anything)
}

func TestAddInfoLastSourceWins(t *testing.T) {
	info := NewAddInfo()
	assert.Equal(t, KindNone, info.Kind())

	info.SetMagnetURI("magnet:?xt=urn:btih:abc")
	info.SetTorrentFilePath("/tmp/a.torrent")
	assert.Equal(t, KindTorrentFile, info.Kind())
	assert.Equal(t, "/tmp/a.torrent", info.Source())

	info.SetMagnetURI("magnet:?xt=urn:btih:def")
	assert.Equal(t, KindMagnet, info.Kind())
	assert.Equal(t, "magnet:?xt=urn:btih:def", info.Source())

	info.SetResumeDataPath("/tmp/resume")
	assert.Equal(t, "/tmp/resume", info.ResumeDataPath())
	assert.Equal(t, "magnet", info.Kind().String())
}

func TestExecutorRunsInOrder(t *testing.T) {
	e := NewExecutor(4, zerolog.Nop())
	defer e.Close()

	var got []int
	for i := 0; i < 10; i++ {
		i := i
		require.True(t, e.Submit(func() { got = append(got, i) }))
	}
	require.NoError(t, e.Do(context.Background(), func() error { return nil }))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestExecutorDoReturnsErrorsAndPanics(t *testing.T) {
	e := NewExecutor(0, zerolog.Nop())
	defer e.Close()

	boom := errors.New("boom")
	assert.ErrorIs(t, e.Do(context.Background(), func() error { return boom }), boom)
	assert.Error(t, e.Do(context.Background(), func() error { panic("bad") }))

	var ran atomic.Bool
	e.Submit(func() { panic("ignored") })
	require.NoError(t, e.Do(context.Background(), func() error {
		ran.Store(true)
		return nil
	}))
	assert.True(t, ran.Load(), "executor survives a panicking task")
}

func TestExecutorDoHonorsContext(t *testing.T) {
	e := NewExecutor(0, zerolog.Nop())
	defer e.Close()

	release := make(chan struct{})
	e.Submit(func() { <-release })
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, e.Do(ctx, func() error { return nil }), context.DeadlineExceeded)
}

func TestExecutorClosed(t *testing.T) {
	e := NewExecutor(0, zerolog.Nop())
	e.Close()
	e.Close()

	assert.False(t, e.Submit(func() {}))
	assert.ErrorIs(t, e.Do(context.Background(), func() error { return nil }), ErrExecutorClosed)
}

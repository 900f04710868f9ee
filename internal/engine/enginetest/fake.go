// Package enginetest provides an in-memory engine.Session for tests. It
// records every call and lets the test inject engine events.
package enginetest

import (
	"bytes"
	"io"
	"sync"
	"time"

	"seqtorrent/internal/engine"
)

type StartCall struct {
	Handle  engine.HandleID
	Kind    engine.Kind
	Source  string
	Resume  string
	SaveDir string
}

type Session struct {
	mu sync.Mutex

	// RejectStart makes StartDownload fail.
	RejectStart bool

	events   chan engine.Event
	nextID   engine.HandleID
	handles  map[engine.HandleID]*Handle
	starts   []StartCall
	released []engine.HandleID
	settings []engine.Settings
	paused   bool
	closed   bool
}

var _ engine.Session = (*Session)(nil)

func NewSession() *Session {
	return &Session{
		events:  make(chan engine.Event, 1024),
		handles: make(map[engine.HandleID]*Handle),
	}
}

func (s *Session) CreateTorrentHandle() engine.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	h := &Handle{id: s.nextID, s: s, deadlines: make(map[int]time.Duration)}
	s.handles[h.id] = h
	return h
}

func (s *Session) CreateTorrentAddInfo() *engine.AddInfo {
	return engine.NewAddInfo()
}

func (s *Session) StartDownload(h engine.Handle, info *engine.AddInfo, saveDir string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts = append(s.starts, StartCall{
		Handle:  h.ID(),
		Kind:    info.Kind(),
		Source:  info.Source(),
		Resume:  info.ResumeDataPath(),
		SaveDir: saveDir,
	})
	return !s.RejectStart && !s.closed && info.Kind() != engine.KindNone
}

func (s *Session) ReleaseHandle(h engine.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, h.ID())
	delete(s.handles, h.ID())
}

func (s *Session) ApplySettings(settings engine.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = append(s.settings, settings)
	return nil
}

func (s *Session) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

func (s *Session) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

func (s *Session) Events() <-chan engine.Event { return s.events }

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// Emit delivers ev as if the engine had produced it. Events emitted after
// Close are dropped.
func (s *Session) Emit(ev engine.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.events <- ev
}

func (s *Session) Handle(id engine.HandleID) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[id]
}

func (s *Session) Starts() []StartCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StartCall(nil), s.starts...)
}

func (s *Session) Released() []engine.HandleID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.HandleID(nil), s.released...)
}

func (s *Session) Settings() []engine.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.Settings(nil), s.settings...)
}

func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

type Tracker struct {
	URL       string
	Tier      int
	FailLimit int
}

// Handle records what the scheduler asked of one torrent.
type Handle struct {
	id engine.HandleID
	s  *Session

	mu          sync.Mutex
	wanted      [][]int
	deadlines   map[int]time.Duration
	trackers    []Tracker
	statusPosts int
	resumePosts int

	// content backs NewReader once SendMetadata has set a layout. status
	// and resumeBlob are reported back by the Post methods when set.
	content    []byte
	status     *engine.Status
	resumeBlob []byte
	layout     *engine.Layout
}

var _ engine.Handle = (*Handle)(nil)

func (h *Handle) ID() engine.HandleID { return h.id }

func (h *Handle) PostStatusUpdates() {
	h.mu.Lock()
	h.statusPosts++
	st := h.status
	h.mu.Unlock()
	if st != nil {
		h.s.Emit(engine.StatusUpdate{ID: h.id, Status: *st})
	}
}

func (h *Handle) PostSaveResume() {
	h.mu.Lock()
	h.resumePosts++
	blob := h.resumeBlob
	h.mu.Unlock()
	if blob != nil {
		h.s.Emit(engine.ResumeData{ID: h.id, Data: blob})
	}
}

func (h *Handle) SetPieceDeadline(index int, deadline time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deadlines[index] = deadline
}

func (h *Handle) ClearPieceDeadlines() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deadlines = make(map[int]time.Duration)
}

func (h *Handle) AddTracker(url string, tier int, failLimit int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trackers = append(h.trackers, Tracker{URL: url, Tier: tier, FailLimit: failLimit})
}

func (h *Handle) SetWantedPieces(indexes []int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.wanted = append(h.wanted, append([]int(nil), indexes...))
}

func (h *Handle) NewReader(fileIndex int) (io.ReadSeekCloser, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.layout == nil {
		return nil, engine.ErrNoMetadata
	}
	if fileIndex < 0 || fileIndex >= len(h.layout.Files) {
		return nil, engine.ErrInvalidFile
	}
	f := h.layout.Files[fileIndex]
	end := f.Offset + f.Length
	if end > int64(len(h.content)) {
		end = int64(len(h.content))
	}
	start := f.Offset
	if start > end {
		start = end
	}
	return nopCloser{bytes.NewReader(h.content[start:end])}, nil
}

// SendMetadata records the layout for NewReader and emits MetadataReceived.
func (h *Handle) SendMetadata(l engine.Layout) {
	h.mu.Lock()
	h.layout = &l
	h.mu.Unlock()
	h.s.Emit(engine.MetadataReceived{ID: h.id, Layout: l})
}

func (h *Handle) FinishPiece(index int) {
	h.s.Emit(engine.PieceFinished{ID: h.id, Index: index})
}

// Wanted returns the most recent SetWantedPieces argument.
func (h *Handle) Wanted() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.wanted) == 0 {
		return nil
	}
	return h.wanted[len(h.wanted)-1]
}

func (h *Handle) WantedCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.wanted)
}

func (h *Handle) Deadlines() map[int]time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[int]time.Duration, len(h.deadlines))
	for k, v := range h.deadlines {
		out[k] = v
	}
	return out
}

func (h *Handle) Trackers() []Tracker {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Tracker(nil), h.trackers...)
}

func (h *Handle) StatusPosts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.statusPosts
}

func (h *Handle) ResumePosts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resumePosts
}

func (h *Handle) SetStatus(st engine.Status) {
	h.mu.Lock()
	h.status = &st
	h.mu.Unlock()
}

func (h *Handle) SetContent(b []byte) {
	h.mu.Lock()
	h.content = b
	h.mu.Unlock()
}

func (h *Handle) SetResumeBlob(b []byte) {
	h.mu.Lock()
	h.resumeBlob = b
	h.mu.Unlock()
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seqtorrent/internal/config"
	"seqtorrent/internal/engine"
	"seqtorrent/internal/engine/enginetest"
	"seqtorrent/internal/storage"
	"seqtorrent/internal/torrent"
)

const (
	testHash   = "0123456789abcdef0123456789abcdef01234567"
	testMagnet = "magnet:?xt=urn:btih:" + testHash + "&dn=movie"
	pieceLen   = 1024
	numPieces  = 16
)

type testEnv struct {
	router  http.Handler
	manager *torrent.Manager
	session *enginetest.Session
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.DownloadDir = t.TempDir()
	cfg.WindowSize = 3
	cfg.HeaderSize = pieceLen
	cfg.FooterSize = pieceLen
	cfg.RateLimit = 1000
	cfg.StatusInterval = time.Hour
	cfg.ResumeInterval = time.Hour
	cfg.CleanupInterval = time.Hour

	store, err := storage.NewResumeStore(t.TempDir(), 10, 0)
	require.NoError(t, err)
	sess := enginetest.NewSession()
	tm, err := torrent.NewManager(cfg, sess, store, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = tm.Close() })

	return &testEnv{
		router:  NewRouter(cfg, zerolog.Nop(), tm, opentracing.NoopTracer{}),
		manager: tm,
		session: sess,
	}
}

func (e *testEnv) do(t *testing.T, method, target string, body interface{}, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, rd)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// ready adds the test magnet and delivers metadata with content behind it.
func (e *testEnv) ready(t *testing.T) (string, *enginetest.Handle, []byte) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/playbacks", torrent.Source{Magnet: testMagnet}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var info torrent.PlaybackInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))

	starts := e.session.Starts()
	require.Len(t, starts, 1)
	h := e.session.Handle(starts[0].Handle)

	content := make([]byte, numPieces*pieceLen)
	for i := range content {
		content[i] = byte(i % 251)
	}
	h.SetContent(content)
	h.SendMetadata(engine.Layout{
		Name:        "movie",
		InfoHash:    testHash,
		PieceLength: pieceLen,
		TotalLength: numPieces * pieceLen,
		Files: []engine.File{
			{Index: 0, Path: "movie/sample.txt", Offset: 0, Length: pieceLen},
			{Index: 1, Path: "movie/movie.mkv", Offset: pieceLen, Length: (numPieces - 1) * pieceLen},
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := e.manager.WaitReady(ctx, info.ID)
	require.NoError(t, err)
	return info.ID, h, content
}

func TestCreateAndListPlaybacks(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/playbacks", torrent.Source{Magnet: testMagnet}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var info torrent.PlaybackInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, testHash, info.InfoHash)
	assert.False(t, info.Ready)

	rec = e.do(t, http.MethodGet, "/playbacks", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []torrent.PlaybackInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, info.ID, list[0].ID)

	rec = e.do(t, http.MethodGet, "/playbacks/"+info.ID, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPost, "/playbacks/"+info.ID+"/seek", map[string]int{"piece": 3}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreatePlaybackErrors(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/playbacks", torrent.Source{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/playbacks", strings.NewReader("{"))
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	e.session.RejectStart = true
	rec = e.do(t, http.MethodPost, "/playbacks", torrent.Source{Magnet: testMagnet}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSeekPlayback(t *testing.T) {
	e := newTestEnv(t)
	id, h, _ := e.ready(t)

	rec := e.do(t, http.MethodPost, "/playbacks/"+id+"/seek", map[string]int{"piece": 10}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Piece    int                  `json:"piece"`
		Playback torrent.PlaybackInfo `json:"playback"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 10, resp.Piece)
	require.NotNil(t, resp.Playback.Window)
	assert.Equal(t, []int{10, 11, 12}, resp.Playback.Window.Pieces)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]int{10, 11, 12}, h.Wanted())
	}, 2*time.Second, 5*time.Millisecond)

	rec = e.do(t, http.MethodPost, "/playbacks/"+id+"/seek", map[string]int64{"offset": 5*pieceLen + 7}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.Piece)

	rec = e.do(t, http.MethodPost, "/playbacks/"+id+"/seek", map[string]int{"piece": 1, "offset": 2}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, http.MethodPost, "/playbacks/"+id+"/seek", map[string]int{"piece": numPieces}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/playbacks/"+id+"/resume", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestPiecesEndpoints(t *testing.T) {
	e := newTestEnv(t)
	id, h, _ := e.ready(t)

	h.FinishPiece(0)
	rec := e.do(t, http.MethodGet, "/playbacks/"+id+"/pieces/0?wait=true", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pc struct {
		Index int    `json:"index"`
		Size  int64  `json:"size"`
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pc))
	assert.Equal(t, 0, pc.Index)
	assert.Equal(t, int64(pieceLen), pc.Size)
	assert.Equal(t, "finished", pc.State)

	rec = e.do(t, http.MethodGet, "/playbacks/"+id+"/pieces", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bf struct {
		PieceCount int    `json:"pieceCount"`
		Finished   int    `json:"finished"`
		Bitfield   []byte `json:"bitfield"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bf))
	assert.Equal(t, numPieces, bf.PieceCount)
	assert.Equal(t, 1, bf.Finished)
	assert.Len(t, bf.Bitfield, numPieces/8)

	rec = e.do(t, http.MethodGet, "/playbacks/"+id+"/pieces/x", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, http.MethodGet, "/playbacks/"+id+"/pieces/99", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamFileRange(t *testing.T) {
	e := newTestEnv(t)
	id, h, content := e.ready(t)

	rec := e.do(t, http.MethodGet, "/playbacks/"+id+"/files/1/stream", nil, http.Header{"Range": {"bytes=9216-9225"}})
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "video/x-matroska", rec.Header().Get("Content-Type"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, content[pieceLen+9216:pieceLen+9226], rec.Body.Bytes())

	// Byte 9216 of the file is piece 10 of the torrent.
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]int{10, 11, 12}, h.Wanted())
	}, 2*time.Second, 5*time.Millisecond)

	rec = e.do(t, http.MethodGet, "/playbacks/"+id+"/files/7/stream", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = e.do(t, http.MethodGet, "/playbacks/missing/files/0/stream", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeletePlayback(t *testing.T) {
	e := newTestEnv(t)
	id, _, _ := e.ready(t)

	rec := e.do(t, http.MethodDelete, "/playbacks/"+id, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do(t, http.MethodGet, "/playbacks/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = e.do(t, http.MethodDelete, "/playbacks/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionEndpoints(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/session/pause", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, e.session.Paused())
	rec = e.do(t, http.MethodPost, "/session/resume", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, e.session.Paused())

	body := map[string]int64{"downloadRateLimit": 1 << 20, "uploadRateLimit": 1 << 10, "maxConnections": 40}
	rec = e.do(t, http.MethodPut, "/session/settings", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	applied := e.session.Settings()
	require.NotEmpty(t, applied)
	last := applied[len(applied)-1]
	assert.Equal(t, int64(1<<20), last.DownloadRateLimit)
	assert.Equal(t, 40, last.MaxConnections)

	rec = e.do(t, http.MethodGet, "/session/settings", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"downloadRateLimit":1048576,"uploadRateLimit":1024,"maxConnections":40}`, rec.Body.String())

	rec = e.do(t, http.MethodPut, "/session/settings", map[string]int{"maxConnections": -1}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	rec = e.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "seqtorrent_http_requests_total")
}

func TestRunServerStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Port = "0"
	srv := NewServer(cfg, http.NotFoundHandler())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- RunServer(ctx, srv, time.Second) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

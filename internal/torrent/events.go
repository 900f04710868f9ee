package torrent

import (
	"fmt"
	"runtime/debug"
	"time"

	"seqtorrent/internal/download"
	"seqtorrent/internal/engine"
	"seqtorrent/internal/piece"
)

// pump is the single consumer of the engine event stream. It returns when
// the session closes the stream.
func (m *Manager) pump() {
	defer m.wg.Done()
	for ev := range m.session.Events() {
		m.handleEvent(ev)
	}
}

func (m *Manager) handleEvent(ev engine.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.Logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msgf("Panic handling %T", ev)
		}
	}()

	p := m.lookupHandle(ev.Handle())
	if p == nil {
		m.Logger.Debug().Uint64("handle", uint64(ev.Handle())).Msgf("dropping %T for released handle", ev)
		return
	}

	switch e := ev.(type) {
	case engine.MetadataReceived:
		m.onMetadata(p, e.Layout)
	case engine.PieceFinished:
		m.onPieceFinished(p, e.Index)
	case engine.StatusUpdate:
		m.onStatus(p, e.Status)
	case engine.ResumeData:
		m.onResumeData(p, e.Data)
	default:
		m.Logger.Warn().Msgf("unknown engine event %T", ev)
	}
}

func (m *Manager) onMetadata(p *Playback, layout engine.Layout) {
	log := m.Logger.With().Str("playback", p.ID).Str("infoHash", p.InfoHash).Logger()
	if p.isReady() {
		log.Debug().Msg("duplicate metadata ignored")
		return
	}

	pieces, err := piece.Build(layout.TotalLength, layout.PieceLength)
	if err != nil {
		err = fmt.Errorf("build pieces: %w", err)
		log.Error().Err(err).Msg("unusable metadata")
		p.markReady(layout, nil, nil, err)
		return
	}
	c, err := download.NewController(pieces, engine.NewPriorities(p.handle, m.policy), m.opts, log)
	if err != nil {
		err = fmt.Errorf("create controller: %w", err)
		log.Error().Err(err).Msg("unusable metadata")
		p.markReady(layout, pieces, nil, err)
		return
	}

	p.markReady(layout, pieces, c, nil)
	c.OnTorrentResumed()
	// Persist the metainfo now; events for a released handle never arrive.
	p.handle.PostSaveResume()

	log.Info().
		Str("name", layout.Name).
		Int("pieces", len(pieces)).
		Int64("pieceLength", layout.PieceLength).
		Int("files", len(layout.Files)).
		Ints("header", c.HeaderPieces()).
		Ints("footer", c.FooterPieces()).
		Msg("metadata received")
}

func (m *Manager) onPieceFinished(p *Playback, index int) {
	c, pieces, err := p.readyController()
	if err != nil {
		m.Logger.Debug().Str("playback", p.ID).Int("piece", index).Err(err).Msg("piece event before metadata")
		return
	}
	if index < 0 || index >= len(pieces) {
		m.Logger.Warn().Str("playback", p.ID).Int("piece", index).Msg("piece event out of range")
		return
	}
	pieces[index].State.Store(piece.Finished)
	c.OnPieceDownloaded(index)
	piecesFinished.Inc()
}

func (m *Manager) onStatus(p *Playback, st engine.Status) {
	p.peers.Store(int32(st.Peers))
	p.stats.Update(download.Sample{
		TotalSize:       st.TotalSize,
		DownloadedBytes: st.DownloadedBytes,
		UploadedBytes:   st.UploadedBytes,
		DownloadRate:    st.DownloadRate,
		UploadRate:      st.UploadRate,
		Finished:        st.Finished,
		At:              time.Now(),
	})
}

func (m *Manager) onResumeData(p *Playback, data []byte) {
	if len(data) == 0 {
		return
	}
	if err := m.store.Save(p.InfoHash, data); err != nil {
		m.Logger.Warn().Err(err).Str("infoHash", p.InfoHash).Msg("saving resume data failed")
		return
	}
	resumeSaves.Inc()
}

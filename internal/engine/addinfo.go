package engine

// Kind says where a torrent comes from.
type Kind int

const (
	KindNone Kind = iota
	KindMagnet
	KindTorrentFile
)

func (k Kind) String() string {
	switch k {
	case KindMagnet:
		return "magnet"
	case KindTorrentFile:
		return "torrent_file"
	default:
		return "none"
	}
}

// AddInfo describes how to start a torrent. Setting a magnet URI or a torrent
// file path replaces whichever was set before.
type AddInfo struct {
	kind       Kind
	source     string
	resumePath string
}

func NewAddInfo() *AddInfo {
	return &AddInfo{}
}

func (a *AddInfo) SetMagnetURI(uri string) {
	a.kind = KindMagnet
	a.source = uri
}

func (a *AddInfo) SetTorrentFilePath(path string) {
	a.kind = KindTorrentFile
	a.source = path
}

// SetResumeDataPath points at previously saved resume data. The engine uses it
// in preference to the source when the file exists.
func (a *AddInfo) SetResumeDataPath(path string) {
	a.resumePath = path
}

func (a *AddInfo) Kind() Kind             { return a.kind }
func (a *AddInfo) Source() string         { return a.source }
func (a *AddInfo) ResumeDataPath() string { return a.resumePath }

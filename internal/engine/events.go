package engine

// Event is something the engine reports about one handle.
type Event interface {
	Handle() HandleID
}

type MetadataReceived struct {
	ID     HandleID
	Layout Layout
}

// PieceFinished is sent once per verified piece, including pieces that were
// already complete on disk. Consumers must tolerate duplicates.
type PieceFinished struct {
	ID    HandleID
	Index int
}

type StatusUpdate struct {
	ID     HandleID
	Status Status
}

// ResumeData carries an opaque blob that can be handed back through
// AddInfo.SetResumeDataPath after being written to disk.
type ResumeData struct {
	ID   HandleID
	Data []byte
}

func (e MetadataReceived) Handle() HandleID { return e.ID }
func (e PieceFinished) Handle() HandleID    { return e.ID }
func (e StatusUpdate) Handle() HandleID     { return e.ID }
func (e ResumeData) Handle() HandleID       { return e.ID }

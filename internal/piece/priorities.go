package piece

// Priorities tells the engine which pieces to fetch. DownloadOnly is a full
// re-assertion, not a delta: every index left out is ignored by the engine,
// and repeating the same call must be harmless.
type Priorities interface {
	DownloadOnly(indexes []int)
}

// PrioritiesFunc adapts a plain function to Priorities.
type PrioritiesFunc func(indexes []int)

func (f PrioritiesFunc) DownloadOnly(indexes []int) { f(indexes) }

package engine

import (
	"time"

	"seqtorrent/internal/piece"
)

// DeadlinePolicy spaces deadlines out by request order: the first requested
// piece gets Base, each following one Step more.
type DeadlinePolicy struct {
	Base time.Duration
	Step time.Duration
}

func DefaultDeadlinePolicy() DeadlinePolicy {
	return DeadlinePolicy{Base: 500 * time.Millisecond, Step: 250 * time.Millisecond}
}

type handlePriorities struct {
	h      Handle
	policy DeadlinePolicy
}

// NewPriorities turns DownloadOnly calls into handle requests. Earlier
// indexes in a call get earlier deadlines.
func NewPriorities(h Handle, policy DeadlinePolicy) piece.Priorities {
	return &handlePriorities{h: h, policy: policy}
}

func (p *handlePriorities) DownloadOnly(indexes []int) {
	p.h.ClearPieceDeadlines()
	p.h.SetWantedPieces(indexes)
	for rank, i := range indexes {
		p.h.SetPieceDeadline(i, p.policy.Base+time.Duration(rank)*p.policy.Step)
	}
}

package consensus

import (
	"fmt"
	"strings"

	"github.com/annchain/dagconsensus/types"
)

type ScoringStrategy int

const (
	// ScoringVote credits the authors of blocks that reference a committed
	// leader of the previous round.
	ScoringVote ScoringStrategy = iota
	// ScoringInclusion credits the author of every committed block.
	ScoringInclusion
)

func (s ScoringStrategy) String() string {
	switch s {
	case ScoringInclusion:
		return "inclusion"
	default:
		return "vote"
	}
}

func ParseScoringStrategy(s string) (ScoringStrategy, error) {
	switch strings.ToLower(s) {
	case "", "vote":
		return ScoringVote, nil
	case "inclusion":
		return ScoringInclusion, nil
	}
	return 0, fmt.Errorf("unknown scoring strategy %q", s)
}

// ReputationScorer accumulates scores over a window of commits. Only
// leaders committed inside the current window are credited, so a restarted
// authority that replays the window reaches the same scores.
type ReputationScorer struct {
	strategy ScoringStrategy
	window   uint32

	scores  []uint64
	scored  uint32
	leaders map[types.BlockRef]struct{}
}

func NewReputationScorer(context *Context) *ReputationScorer {
	return &ReputationScorer{
		strategy: context.Parameters.ScoringStrategy,
		window:   context.Parameters.LeaderScoringWindow,
		scores:   make([]uint64, context.Committee.Size()),
		leaders:  make(map[types.BlockRef]struct{}),
	}
}

func (r *ReputationScorer) AddSubDag(subDag *types.CommittedSubDag) {
	r.leaders[subDag.Leader] = struct{}{}
	for _, b := range subDag.Blocks {
		switch r.strategy {
		case ScoringInclusion:
			r.scores[b.Author()]++
		default:
			for _, a := range b.Ancestors() {
				if a.Round+1 != b.Round() {
					continue
				}
				if _, ok := r.leaders[a]; ok {
					r.scores[b.Author()]++
					break
				}
			}
		}
	}
	r.scored++
}

// CommitsUntilUpdate is how many more commits fit in the current window.
func (r *ReputationScorer) CommitsUntilUpdate() uint32 {
	if r.scored >= r.window {
		return 0
	}
	return r.window - r.scored
}

// TakeScores returns the scores of the finished window and starts a new one.
func (r *ReputationScorer) TakeScores() []uint64 {
	scores := r.scores
	r.scores = make([]uint64, len(scores))
	r.scored = 0
	r.leaders = make(map[types.BlockRef]struct{})
	return scores
}

func (r *ReputationScorer) Scores() []uint64 {
	return append([]uint64(nil), r.scores...)
}

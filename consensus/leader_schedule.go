package consensus

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/annchain/dagconsensus/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"
)

type LeaderSwapStrategy int

const (
	LeaderSwapReputationWeighted LeaderSwapStrategy = iota
	LeaderSwapRoundRobin
)

func (s LeaderSwapStrategy) String() string {
	switch s {
	case LeaderSwapRoundRobin:
		return "round_robin"
	default:
		return "reputation_weighted"
	}
}

func ParseLeaderSwapStrategy(s string) (LeaderSwapStrategy, error) {
	switch strings.ToLower(s) {
	case "", "reputation_weighted", "weighted":
		return LeaderSwapReputationWeighted, nil
	case "round_robin", "roundrobin":
		return LeaderSwapRoundRobin, nil
	}
	return 0, fmt.Errorf("unknown leader swap strategy %q", s)
}

// LeaderSchedule elects the leader of every (round, offset). The schedule is
// a versioned history: each version carries the reputation scores that
// weigh the election for rounds from its start round on. Every authority
// derives the same history from the same commit sequence.
type LeaderSchedule struct {
	mu       sync.RWMutex
	context  *Context
	strategy LeaderSwapStrategy
	versions []types.ScheduleVersion
	logger   *logrus.Entry
}

// NewLeaderSchedule starts from the persisted versions, or from a single
// all-zero version when none exist.
func NewLeaderSchedule(context *Context, versions []types.ScheduleVersion) *LeaderSchedule {
	l := &LeaderSchedule{
		context:  context,
		strategy: context.Parameters.LeaderSwapStrategy,
		logger:   context.moduleLogger("leader_schedule"),
	}
	l.versions = append(l.versions, types.ScheduleVersion{
		StartRound: types.GenesisRound,
		Scores:     make([]uint64, context.Committee.Size()),
	})
	sorted := append([]types.ScheduleVersion(nil), versions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartRound < sorted[j].StartRound })
	for _, v := range sorted {
		if v.StartRound == types.GenesisRound {
			l.versions[0] = v
			continue
		}
		l.versions = append(l.versions, v)
	}
	return l
}

// ElectLeader is deterministic in (round, offset) and the schedule version
// covering round. Distinct offsets of one round elect distinct authorities.
func (l *LeaderSchedule) ElectLeader(round types.Round, offset uint32) types.AuthorityIndex {
	n := l.context.Committee.Size()
	if l.strategy == LeaderSwapRoundRobin {
		return types.AuthorityIndex((uint64(round) + uint64(offset)) % uint64(n))
	}
	l.mu.RLock()
	version := l.versionForRoundLocked(round)
	l.mu.RUnlock()
	return l.electWeighted(round, offset, version.Scores)
}

func (l *LeaderSchedule) versionForRoundLocked(round types.Round) types.ScheduleVersion {
	i := sort.Search(len(l.versions), func(i int) bool { return l.versions[i].StartRound > round })
	return l.versions[i-1]
}

// weights gives every authority a share proportional to its stake, scaled by
// its score with a floor of LeaderMinWeightPercent of the best score.
func (l *LeaderSchedule) weights(scores []uint64) []uint64 {
	c := l.context.Committee
	var maxScore uint64
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}
	floor := l.context.Parameters.LeaderMinWeightPercent
	weights := make([]uint64, c.Size())
	for i := range weights {
		stake := c.Stake(types.AuthorityIndex(i))
		if maxScore == 0 {
			weights[i] = stake
			continue
		}
		var score uint64
		if i < len(scores) {
			score = scores[i]
		}
		weights[i] = stake * (floor*maxScore + (100-floor)*score)
	}
	return weights
}

// electWeighted samples offset+1 authorities without replacement and returns
// the last one drawn.
func (l *LeaderSchedule) electWeighted(round types.Round, offset uint32, scores []uint64) types.AuthorityIndex {
	weights := l.weights(scores)
	remaining := make([]types.AuthorityIndex, len(weights))
	for i := range remaining {
		remaining[i] = types.AuthorityIndex(i)
	}
	var picked types.AuthorityIndex
	for k := uint32(0); k <= offset && len(remaining) > 0; k++ {
		var total uint64
		for _, a := range remaining {
			total += weights[a]
		}
		x := l.seed(round, k) % total
		idx := 0
		for i, a := range remaining {
			if x < weights[a] {
				idx = i
				break
			}
			x -= weights[a]
		}
		picked = remaining[idx]
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return picked
}

func (l *LeaderSchedule) seed(round types.Round, draw uint32) uint64 {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], l.context.Epoch())
	binary.BigEndian.PutUint32(buf[8:12], uint32(round))
	binary.BigEndian.PutUint32(buf[12:16], draw)
	digest := sha3.Sum256(buf[:])
	return binary.BigEndian.Uint64(digest[:8])
}

// UpdateLeaderSchedule appends a version that applies from startRound on.
func (l *LeaderSchedule) UpdateLeaderSchedule(startRound types.Round, scores []uint64) types.ScheduleVersion {
	l.mu.Lock()
	defer l.mu.Unlock()
	last := l.versions[len(l.versions)-1]
	if startRound <= last.StartRound {
		l.logger.WithFields(logrus.Fields{
			"start": startRound,
			"last":  last.StartRound,
		}).Panic("leader schedule versions must be appended in round order")
	}
	v := types.ScheduleVersion{
		StartRound: startRound,
		Scores:     append([]uint64(nil), scores...),
	}
	l.versions = append(l.versions, v)
	l.logger.WithFields(logrus.Fields{
		"start":  startRound,
		"scores": scores,
	}).Info("leader schedule updated")
	return v
}

// ScoresAt returns the scores weighing the election at round.
func (l *LeaderSchedule) ScoresAt(round types.Round) []uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]uint64(nil), l.versionForRoundLocked(round).Scores...)
}

func (l *LeaderSchedule) LastVersion() types.ScheduleVersion {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.versions[len(l.versions)-1]
}

func (l *LeaderSchedule) Versions() []types.ScheduleVersion {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]types.ScheduleVersion(nil), l.versions...)
}

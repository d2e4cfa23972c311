package consensus

import (
	"sync"

	"github.com/annchain/dagconsensus/types"
	"github.com/annchain/gcache"
	"github.com/sirupsen/logrus"
)

// PeerReputation counts recent misbehaviour per peer. Penalties expire, so
// a peer that stops misbehaving is trusted again.
type PeerReputation struct {
	threshold int
	// mu makes the read and increment in Penalize one step.
	mu        sync.Mutex
	penalties gcache.Cache
	logger    *logrus.Entry
}

func NewPeerReputation(context *Context) *PeerReputation {
	return &PeerReputation{
		threshold: context.Parameters.PeerPenaltyThreshold,
		penalties: gcache.New(context.Committee.Size()).Simple().
			Expiration(context.Parameters.PeerPenaltyExpiration).Build(),
		logger: context.moduleLogger("peer_reputation"),
	}
}

func (p *PeerReputation) Penalize(peer types.AuthorityIndex, reason error) {
	p.mu.Lock()
	count := p.count(peer) + 1
	_ = p.penalties.Set(peer, count)
	p.mu.Unlock()
	p.logger.WithFields(logrus.Fields{
		"peer":      peer,
		"penalties": count,
	}).WithError(reason).Warn("peer penalized")
}

func (p *PeerReputation) count(peer types.AuthorityIndex) int {
	v, err := p.penalties.GetIFPresent(peer)
	if err != nil {
		return 0
	}
	return v.(int)
}

// IsPenalized reports whether the peer should not be asked for blocks.
func (p *PeerReputation) IsPenalized(peer types.AuthorityIndex) bool {
	return p.threshold > 0 && p.count(peer) >= p.threshold
}

package consensus

import (
	"context"
	"errors"

	"github.com/annchain/dagconsensus/consensus_interface"
	"github.com/annchain/dagconsensus/types"
	"github.com/sirupsen/logrus"
)

// AuthorityService answers the requests of the other authorities.
type AuthorityService struct {
	context      *Context
	verifier     BlockVerifier
	dispatcher   CoreThreadDispatcher
	synchronizer *Synchronizer
	dagState     *DagState
	reputation   *PeerReputation
	logger       *logrus.Entry
}

var _ consensus_interface.NetworkService = (*AuthorityService)(nil)

func NewAuthorityService(context *Context, verifier BlockVerifier, dispatcher CoreThreadDispatcher,
	synchronizer *Synchronizer, dagState *DagState, reputation *PeerReputation) *AuthorityService {
	return &AuthorityService{
		context:      context,
		verifier:     verifier,
		dispatcher:   dispatcher,
		synchronizer: synchronizer,
		dagState:     dagState,
		reputation:   reputation,
		logger:       context.moduleLogger("authority_service"),
	}
}

// HandleSendBlock verifies a block pushed by its author and hands it to the
// core. Missing ancestors are fetched from the same peer.
func (s *AuthorityService) HandleSendBlock(ctx context.Context, peer types.AuthorityIndex, serialized []byte) error {
	block, err := types.NewVerifiedBlockFromBytes(serialized)
	if err != nil {
		err = verificationError(VerificationMalformed, "%v", err)
		s.reputation.Penalize(peer, err)
		return err
	}
	if block.Author() != peer {
		err = verificationError(VerificationWrongSender, "block %s from peer %d", block.Ref(), peer)
		s.reputation.Penalize(peer, err)
		return err
	}
	if err := s.verifier.Verify(block.Signed()); err != nil {
		s.reputation.Penalize(peer, err)
		return err
	}
	if block.Round() <= s.dagState.GcRound() {
		s.logger.WithField("block", block.Ref()).Debug("ignoring block at or below gc round")
		return nil
	}
	missing, err := s.dispatcher.AddBlocks(ctx, []*types.VerifiedBlock{block})
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		if err := s.synchronizer.FetchBlocks(missing, peer); err != nil && !errors.Is(err, ErrSynchronizerBusy) {
			s.logger.WithError(err).Warn("failed to schedule fetch")
		}
	}
	return nil
}

// HandleFetchBlocks serves the requested blocks that this authority has,
// from memory or storage.
func (s *AuthorityService) HandleFetchBlocks(ctx context.Context, peer types.AuthorityIndex, refs []types.BlockRef) ([][]byte, error) {
	if len(refs) > s.context.Parameters.MaxBlocksPerFetch {
		s.reputation.Penalize(peer, ErrTooManyFetchRefs)
		return nil, ErrTooManyFetchRefs
	}
	result := make([][]byte, 0, len(refs))
	for _, b := range s.dagState.GetBlocks(refs) {
		if b == nil || b.Round() == types.GenesisRound {
			continue
		}
		result = append(result, b.Serialized())
	}
	s.logger.WithFields(logrus.Fields{
		"peer":      peer,
		"requested": len(refs),
		"served":    len(result),
	}).Trace("served fetch request")
	return result, nil
}

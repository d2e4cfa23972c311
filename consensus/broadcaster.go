package consensus

import (
	"context"
	"sync"

	"github.com/annchain/dagconsensus/common/goroutine"
	"github.com/annchain/dagconsensus/consensus_interface"
	"github.com/annchain/dagconsensus/eventbus"
	"github.com/annchain/dagconsensus/types"
	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// Broadcaster pushes own blocks to every peer. Each peer has its own queue
// so a slow peer never delays the others; when a queue overflows the oldest
// block is dropped and left to the peer's synchronizer.
type Broadcaster struct {
	context *Context
	client  consensus_interface.NetworkClient
	queues  map[types.AuthorityIndex]chan *types.VerifiedBlock
	logger  *logrus.Entry

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewBroadcaster(context *Context, client consensus_interface.NetworkClient) *Broadcaster {
	b := &Broadcaster{
		context: context,
		client:  client,
		queues:  make(map[types.AuthorityIndex]chan *types.VerifiedBlock),
		logger:  context.moduleLogger("broadcaster"),
	}
	for i := 0; i < context.Committee.Size(); i++ {
		peer := types.AuthorityIndex(i)
		if peer == context.OwnIndex {
			continue
		}
		b.queues[peer] = make(chan *types.VerifiedBlock, context.Parameters.BroadcastQueueSize)
	}
	return b
}

func (b *Broadcaster) Start() {
	b.ctx, b.cancel = context.WithCancel(context.Background())
	for peer, queue := range b.queues {
		b.wg.Add(1)
		goroutine.New(func() {
			defer b.wg.Done()
			b.peerLoop(peer, queue)
		})
	}
}

func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
	})
	b.wg.Wait()
}

func (b *Broadcaster) Name() string {
	return "Broadcaster"
}

func (b *Broadcaster) HandlerDescription(ev eventbus.EventType) string {
	if ev == eventbus.NewBlockEventType {
		return "BroadcastOwnBlock"
	}
	return "N/A"
}

func (b *Broadcaster) HandleEvent(ev eventbus.Event) {
	e, ok := ev.(*eventbus.NewBlockEvent)
	if !ok {
		return
	}
	b.Broadcast(e.Block)
}

// Broadcast never blocks.
func (b *Broadcaster) Broadcast(block *types.VerifiedBlock) {
	for peer, queue := range b.queues {
		for {
			select {
			case queue <- block:
			default:
				select {
				case dropped := <-queue:
					b.logger.WithFields(logrus.Fields{
						"peer":  peer,
						"block": dropped.Ref(),
					}).Debug("broadcast queue full, dropping oldest block")
				default:
				}
				continue
			}
			break
		}
	}
}

func (b *Broadcaster) peerLoop(peer types.AuthorityIndex, queue chan *types.VerifiedBlock) {
	params := b.context.Parameters
	for {
		select {
		case <-b.ctx.Done():
			return
		case block := <-queue:
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = params.FetchBackoffInitial
			bo.MaxInterval = params.FetchBackoffMax
			_, err := backoff.Retry(b.ctx, func() (struct{}, error) {
				ctx, cancel := context.WithTimeout(b.ctx, params.BroadcastTimeout)
				defer cancel()
				return struct{}{}, b.client.SendBlock(ctx, peer, block.Serialized())
			}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(params.BroadcastRetries)))
			if err != nil && b.ctx.Err() == nil {
				b.logger.WithError(err).WithFields(logrus.Fields{
					"peer":  peer,
					"block": block.Ref(),
				}).Debug("failed to send block")
			}
		}
	}
}

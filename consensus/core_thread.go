package consensus

import (
	"context"
	"sync"

	"github.com/annchain/dagconsensus/common/goroutine"
	"github.com/annchain/dagconsensus/types"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// CoreThreadDispatcher is how the other components talk to the core.
type CoreThreadDispatcher interface {
	AddBlocks(ctx context.Context, blocks []*types.VerifiedBlock) ([]types.BlockRef, error)
	NewBlock(ctx context.Context, round types.Round, force bool) error
	GetMissingBlocks(ctx context.Context) ([]types.BlockRef, error)
	Status(ctx context.Context) (Status, error)
	LastProposedRound() types.Round
}

type addBlocksCommand struct {
	blocks []*types.VerifiedBlock
	reply  chan []types.BlockRef
}

type newBlockCommand struct {
	round types.Round
	force bool
	reply chan struct{}
}

type missingBlocksCommand struct {
	reply chan []types.BlockRef
}

type statusCommand struct {
	reply chan Status
}

// CoreThread serializes every call into the Core on one goroutine.
type CoreThread struct {
	core     *Core
	commands chan interface{}
	quit     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	lastProposedRound *atomic.Uint32
	logger            *logrus.Entry
}

func NewCoreThread(context *Context, core *Core) *CoreThread {
	return &CoreThread{
		core:              core,
		commands:          make(chan interface{}, context.Parameters.CommandQueueSize),
		quit:              make(chan struct{}),
		lastProposedRound: atomic.NewUint32(uint32(core.LastProposedRound())),
		logger:            context.moduleLogger("core_thread"),
	}
}

func (t *CoreThread) Start() {
	t.wg.Add(1)
	goroutine.New(t.loop)
}

func (t *CoreThread) Stop() {
	t.stopOnce.Do(func() { close(t.quit) })
	t.wg.Wait()
	t.logger.Info("core thread stopped")
}

func (t *CoreThread) Name() string {
	return "CoreThread"
}

func (t *CoreThread) loop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.quit:
			return
		case cmd := <-t.commands:
			t.handle(cmd)
			t.lastProposedRound.Store(uint32(t.core.LastProposedRound()))
		}
	}
}

func (t *CoreThread) handle(cmd interface{}) {
	switch c := cmd.(type) {
	case *addBlocksCommand:
		c.reply <- t.core.AddBlocks(c.blocks)
	case *newBlockCommand:
		t.core.NewBlock(c.round, c.force)
		c.reply <- struct{}{}
	case *missingBlocksCommand:
		c.reply <- t.core.GetMissingBlocks()
	case *statusCommand:
		c.reply <- t.core.Status()
	default:
		t.logger.WithField("cmd", cmd).Warn("unknown core command")
	}
}

func (t *CoreThread) send(ctx context.Context, cmd interface{}) error {
	select {
	case t.commands <- cmd:
		return nil
	case <-t.quit:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

func wait[T any](ctx context.Context, t *CoreThread, reply chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-t.quit:
		return zero, ErrShutdown
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (t *CoreThread) AddBlocks(ctx context.Context, blocks []*types.VerifiedBlock) ([]types.BlockRef, error) {
	cmd := &addBlocksCommand{blocks: blocks, reply: make(chan []types.BlockRef, 1)}
	if err := t.send(ctx, cmd); err != nil {
		return nil, err
	}
	return wait(ctx, t, cmd.reply)
}

func (t *CoreThread) NewBlock(ctx context.Context, round types.Round, force bool) error {
	cmd := &newBlockCommand{round: round, force: force, reply: make(chan struct{}, 1)}
	if err := t.send(ctx, cmd); err != nil {
		return err
	}
	_, err := wait(ctx, t, cmd.reply)
	return err
}

func (t *CoreThread) GetMissingBlocks(ctx context.Context) ([]types.BlockRef, error) {
	cmd := &missingBlocksCommand{reply: make(chan []types.BlockRef, 1)}
	if err := t.send(ctx, cmd); err != nil {
		return nil, err
	}
	return wait(ctx, t, cmd.reply)
}

func (t *CoreThread) Status(ctx context.Context) (Status, error) {
	cmd := &statusCommand{reply: make(chan Status, 1)}
	if err := t.send(ctx, cmd); err != nil {
		return Status{}, err
	}
	return wait(ctx, t, cmd.reply)
}

// LastProposedRound can be read without going through the command queue.
func (t *CoreThread) LastProposedRound() types.Round {
	return types.Round(t.lastProposedRound.Load())
}

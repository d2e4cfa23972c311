package node

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/annchain/dagconsensus/common/goroutine"
	"github.com/annchain/dagconsensus/rpc"
	"github.com/annchain/dagconsensus/types"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

const (
	IntervalModeConstantInterval = "constant"
	IntervalModeRandom           = "random"
)

// AutoClient submits random transaction batches to one authority, for
// load generation on a local committee.
type AutoClient struct {
	Submitter    rpc.TransactionSubmitter
	TxIntervalMs int
	IntervalMode string
	BatchSize    int
	TxSize       int
	Logger       *logrus.Logger

	submitted *atomic.Uint64
	rejected  *atomic.Uint64
	quit      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

func (c *AutoClient) InitDefault() {
	c.quit = make(chan struct{})
	c.submitted = atomic.NewUint64(0)
	c.rejected = atomic.NewUint64(0)
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.TxSize <= 0 {
		c.TxSize = 32
	}
	if c.TxIntervalMs <= 1 {
		c.TxIntervalMs = 2
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
}

func (c *AutoClient) nextSleepDuration() time.Duration {
	switch c.IntervalMode {
	case IntervalModeConstantInterval, "":
		return time.Millisecond * time.Duration(c.TxIntervalMs)
	case IntervalModeRandom:
		return time.Millisecond * time.Duration(rand.Intn(c.TxIntervalMs-1)+1)
	default:
		panic(fmt.Sprintf("unknown IntervalMode: %s", c.IntervalMode))
	}
}

func (c *AutoClient) loop() {
	defer c.wg.Done()
	timer := time.NewTimer(c.nextSleepDuration())
	defer timer.Stop()
	for {
		select {
		case <-c.quit:
			return
		case <-timer.C:
			c.doSampleTx()
			timer.Reset(c.nextSleepDuration())
		}
	}
}

func (c *AutoClient) doSampleTx() {
	batch := make([]types.Transaction, c.BatchSize)
	for i := range batch {
		tx := make([]byte, c.TxSize)
		rand.Read(tx)
		batch[i] = tx
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	h, err := c.Submitter.Submit(ctx, batch)
	if err != nil {
		c.Logger.WithError(err).Debug("failed to submit sample transactions")
		return
	}
	c.submitted.Inc()
	if reason := h.Status().Reason; reason != "" {
		c.rejected.Inc()
		c.Logger.WithField("reason", reason).Warn("sample transactions rejected")
	}
}

func (c *AutoClient) Start() {
	c.wg.Add(1)
	goroutine.New(c.loop)
}

func (c *AutoClient) Stop() {
	c.stopOnce.Do(func() { close(c.quit) })
	c.wg.Wait()
}

func (c *AutoClient) Name() string {
	return "AutoClient"
}

func (c *AutoClient) GetBenchmarks() map[string]interface{} {
	return map[string]interface{}{
		"submitted": c.submitted.Load(),
		"rejected":  c.rejected.Load(),
	}
}

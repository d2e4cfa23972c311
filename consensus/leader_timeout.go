package consensus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/annchain/dagconsensus/common/goroutine"
	"github.com/annchain/dagconsensus/eventbus"
	"github.com/annchain/dagconsensus/types"
	"github.com/sirupsen/logrus"
)

// LeaderTimeout paces proposals. On every new round it first asks the core
// for a regular proposal after MinRoundDelay, then forces one after
// LeaderTimeout in case the leaders of the previous round never showed up.
type LeaderTimeout struct {
	Dispatcher    CoreThreadDispatcher
	LeaderTimeout time.Duration
	MinRoundDelay time.Duration
	Logger        *logrus.Logger

	rounds        chan types.Round
	minDelayTimer *time.Timer
	timeoutTimer  *time.Timer
	quit          chan struct{}
	wg            sync.WaitGroup
	stopOnce      sync.Once
}

func (l *LeaderTimeout) InitDefault() {
	l.rounds = make(chan types.Round, 1)
	l.quit = make(chan struct{})
	l.minDelayTimer = time.NewTimer(time.Hour)
	l.minDelayTimer.Stop()
	l.timeoutTimer = time.NewTimer(time.Hour)
	l.timeoutTimer.Stop()
	if l.Logger == nil {
		l.Logger = logrus.StandardLogger()
	}
}

func (l *LeaderTimeout) Start() {
	l.wg.Add(1)
	goroutine.New(l.loop)
}

func (l *LeaderTimeout) Stop() {
	l.stopOnce.Do(func() { close(l.quit) })
	l.wg.Wait()
}

func (l *LeaderTimeout) Name() string {
	return "LeaderTimeout"
}

func (l *LeaderTimeout) HandlerDescription(ev eventbus.EventType) string {
	if ev == eventbus.NewRoundEventType {
		return "ResetProposalTimers"
	}
	return "N/A"
}

// HandleEvent keeps only the latest round when the loop falls behind.
func (l *LeaderTimeout) HandleEvent(ev eventbus.Event) {
	e, ok := ev.(*eventbus.NewRoundEvent)
	if !ok {
		return
	}
	for {
		select {
		case l.rounds <- e.Round:
			return
		default:
		}
		select {
		case <-l.rounds:
		default:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (l *LeaderTimeout) loop() {
	defer l.wg.Done()
	var round types.Round
	for {
		select {
		case <-l.quit:
			l.minDelayTimer.Stop()
			l.timeoutTimer.Stop()
			return
		case r := <-l.rounds:
			if r <= round {
				continue
			}
			round = r
			resetTimer(l.minDelayTimer, l.MinRoundDelay)
			resetTimer(l.timeoutTimer, l.LeaderTimeout)
		case <-l.minDelayTimer.C:
			l.propose(round, false)
		case <-l.timeoutTimer.C:
			if l.Dispatcher.LastProposedRound() >= round {
				continue
			}
			l.Logger.WithField("round", round).Debug("leader timeout, forcing proposal")
			l.propose(round, true)
		}
	}
}

func (l *LeaderTimeout) propose(round types.Round, force bool) {
	ctx, cancel := context.WithTimeout(context.Background(), l.LeaderTimeout+time.Second)
	defer cancel()
	if err := l.Dispatcher.NewBlock(ctx, round, force); err != nil && !errors.Is(err, ErrShutdown) {
		l.Logger.WithError(err).WithField("round", round).Warn("failed to request a new block")
	}
}

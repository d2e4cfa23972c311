package consensus

import (
	"sync"

	"github.com/annchain/dagconsensus/types"
	"go.uber.org/atomic"
)

// CommitConsumer is the execution layer's side of the commit stream.
type CommitConsumer struct {
	// Sender receives committed sub dags in commit index order.
	Sender chan *types.CommittedSubDag
	// LastProcessedCommitIndex is the last commit the execution layer has
	// durably handled. Commits after it are replayed on startup.
	LastProcessedCommitIndex types.CommitIndex

	monitor *CommitConsumerMonitor
}

func NewCommitConsumer(sender chan *types.CommittedSubDag, lastProcessed types.CommitIndex) *CommitConsumer {
	return &CommitConsumer{
		Sender:                   sender,
		LastProcessedCommitIndex: lastProcessed,
		monitor:                  NewCommitConsumerMonitor(lastProcessed),
	}
}

func (c *CommitConsumer) Monitor() *CommitConsumerMonitor {
	return c.monitor
}

// CommitConsumerMonitor lets the execution layer report progress.
type CommitConsumerMonitor struct {
	highestHandled *atomic.Uint32
}

func NewCommitConsumerMonitor(lastHandled types.CommitIndex) *CommitConsumerMonitor {
	return &CommitConsumerMonitor{highestHandled: atomic.NewUint32(uint32(lastHandled))}
}

func (m *CommitConsumerMonitor) HighestHandledCommit() types.CommitIndex {
	return types.CommitIndex(m.highestHandled.Load())
}

func (m *CommitConsumerMonitor) SetHighestHandledCommit(index types.CommitIndex) {
	for {
		current := m.highestHandled.Load()
		if uint32(index) <= current || m.highestHandled.CAS(current, uint32(index)) {
			return
		}
	}
}

// commitForwarder decouples the core thread from a slow consumer: pushes
// never block and sub dags are delivered in order.
type commitForwarder struct {
	mu     sync.Mutex
	queue  []*types.CommittedSubDag
	notify chan struct{}
	out    chan<- *types.CommittedSubDag
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newCommitForwarder(out chan<- *types.CommittedSubDag) *commitForwarder {
	f := &commitForwarder{
		notify: make(chan struct{}, 1),
		out:    out,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go f.loop()
	return f
}

func (f *commitForwarder) push(subDags ...*types.CommittedSubDag) {
	if len(subDags) == 0 {
		return
	}
	f.mu.Lock()
	f.queue = append(f.queue, subDags...)
	f.mu.Unlock()
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *commitForwarder) pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

func (f *commitForwarder) loop() {
	defer close(f.done)
	for {
		f.mu.Lock()
		var next *types.CommittedSubDag
		if len(f.queue) > 0 {
			next = f.queue[0]
			f.queue[0] = nil
			f.queue = f.queue[1:]
		}
		f.mu.Unlock()
		if next == nil {
			select {
			case <-f.notify:
				continue
			case <-f.quit:
				return
			}
		}
		select {
		case f.out <- next:
		case <-f.quit:
			return
		}
	}
}

func (f *commitForwarder) stop() {
	f.once.Do(func() { close(f.quit) })
	<-f.done
}

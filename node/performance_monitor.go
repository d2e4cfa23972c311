package node

import (
	"runtime"
	"sync"
	"time"

	"github.com/annchain/dagconsensus/common/goroutine"
	"github.com/sirupsen/logrus"
)

type PerformanceReporter interface {
	Name() string
	GetBenchmarks() map[string]interface{}
}

// PerformanceMonitor logs the benchmarks of every registered reporter.
type PerformanceMonitor struct {
	IntervalSeconds int
	Logger          *logrus.Logger

	reporters []PerformanceReporter
	quit      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

func (p *PerformanceMonitor) Register(holder PerformanceReporter) {
	p.reporters = append(p.reporters, holder)
}

func (p *PerformanceMonitor) collect() logrus.Fields {
	fields := logrus.Fields{}
	for _, r := range p.reporters {
		fields[r.Name()] = r.GetBenchmarks()
	}
	fields["goroutines"] = runtime.NumGoroutine()
	fields["loops"] = goroutine.Running()
	return fields
}

func (p *PerformanceMonitor) Start() {
	p.quit = make(chan struct{})
	if p.Logger == nil {
		p.Logger = logrus.StandardLogger()
	}
	p.wg.Add(1)
	goroutine.New(func() {
		defer p.wg.Done()
		ticker := time.NewTicker(time.Second * time.Duration(p.IntervalSeconds))
		defer ticker.Stop()
		for {
			select {
			case <-p.quit:
				return
			case <-ticker.C:
				p.Logger.WithFields(p.collect()).Info("Performance")
			}
		}
	})
}

func (p *PerformanceMonitor) Stop() {
	p.stopOnce.Do(func() {
		if p.quit != nil {
			close(p.quit)
		}
	})
	p.wg.Wait()
}

func (*PerformanceMonitor) Name() string {
	return "PerformanceMonitor"
}

package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type staticReporter struct{}

func (staticReporter) Name() string { return "static" }

func (staticReporter) GetBenchmarks() map[string]interface{} {
	return map[string]interface{}{"blocks": 3}
}

func TestPerformanceMonitor_Collect(t *testing.T) {
	monitor := &PerformanceMonitor{IntervalSeconds: 3600}
	monitor.Register(staticReporter{})
	monitor.Start()

	fields := monitor.collect()
	assert.Equal(t, map[string]interface{}{"blocks": 3}, fields["static"])
	// the monitor's own loop is counted
	assert.GreaterOrEqual(t, fields["loops"], int32(1))
	assert.Greater(t, fields["goroutines"], 0)

	monitor.Stop()
	monitor.Stop()
}

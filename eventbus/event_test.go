package eventbus

import (
	"testing"

	"github.com/annchain/dagconsensus/types"
	"github.com/stretchr/testify/assert"
)

type recordingHandler struct {
	rounds []types.Round
}

func (r *recordingHandler) HandlerDescription(EventType) string { return "records rounds" }
func (r *recordingHandler) Name() string                        { return "recorder" }
func (r *recordingHandler) HandleEvent(ev Event) {
	r.rounds = append(r.rounds, ev.(*NewRoundEvent).Round)
}

func TestDefaultEventBus_Route(t *testing.T) {
	bus := &DefaultEventBus{}
	bus.InitDefault()
	h1 := &recordingHandler{}
	h2 := &recordingHandler{}
	bus.ListenTo(EventHandlerRegisterInfo{Type: NewRoundEventType, Name: "NewRound", Handler: h1})
	bus.ListenTo(EventHandlerRegisterInfo{Type: NewRoundEventType, Name: "NewRound", Handler: h2})
	bus.Build()

	bus.Route(&NewRoundEvent{Round: 3})
	bus.Route(&NewRoundEvent{Round: 4})
	// unhandled types are dropped silently
	bus.Route(&CommitEvent{})

	assert.Equal(t, []types.Round{3, 4}, h1.rounds)
	assert.Equal(t, []types.Round{3, 4}, h2.rounds)
}

func TestDefaultEventBus_RouteBeforeBuild(t *testing.T) {
	bus := &DefaultEventBus{}
	bus.InitDefault()
	assert.Panics(t, func() { bus.Route(&NewRoundEvent{Round: 1}) })
}

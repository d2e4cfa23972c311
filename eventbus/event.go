// Copyright © 2019 Annchain Authors <EMAIL ADDRESS>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package eventbus

import (
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

type EventType uint8

type Event interface {
	GetEventType() EventType
}

// EventHandler is called synchronously on the routing goroutine, which is
// usually the core thread. HandleEvent must never block.
type EventHandler interface {
	HandlerDescription(EventType) string
	HandleEvent(Event)
	Name() string
}

type EventHandlerRegisterInfo struct {
	Type    EventType
	Name    string
	Handler EventHandler
}

type EventBus interface {
	ListenTo(regInfo EventHandlerRegisterInfo)
	Route(ev Event)
}

type DefaultEventBus struct {
	ID         int
	Logger     *logrus.Logger
	knownNames map[EventType]string
	listeners  map[EventType][]EventHandler
	inited     bool       // do not use Mutex after initialization. It will downgrade performance
	mu         sync.Mutex // use only during initialization
}

func (e *DefaultEventBus) InitDefault() {
	e.listeners = make(map[EventType][]EventHandler)
	e.knownNames = make(map[EventType]string)
	if e.Logger == nil {
		e.Logger = logrus.StandardLogger()
	}
}

func (e *DefaultEventBus) ListenTo(regInfo EventHandlerRegisterInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inited {
		panic("bad code. register all listeners before building eventbus")
	}
	e.listeners[regInfo.Type] = append(e.listeners[regInfo.Type], regInfo.Handler)
	e.knownNames[regInfo.Type] = regInfo.Name
}

// Eventbus must be built before events are to be received.
// This is an commit from programmer, showing that all modules are inited and well-prepared to receive events.
func (e *DefaultEventBus) Build() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inited = true
}

func (e *DefaultEventBus) Route(ev Event) {
	if !e.inited {
		panic("bad code. build eventbus before routing")
	}
	name, ok := e.knownNames[ev.GetEventType()]
	if !ok {
		name = strconv.Itoa(int(ev.GetEventType()))
	}
	handlers, ok := e.listeners[ev.GetEventType()]
	if !ok {
		e.Logger.WithField("me", e.ID).WithField("type", name).Trace("no event handler to handle event type")
		return
	}
	for _, handler := range handlers {
		if e.Logger.IsLevelEnabled(logrus.TraceLevel) {
			e.Logger.WithFields(logrus.Fields{
				"me":      e.ID,
				"handler": handler.Name(),
				"desc":    handler.HandlerDescription(ev.GetEventType()),
			}).Trace("handling")
		}
		handler.HandleEvent(ev)
	}
}

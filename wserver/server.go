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

// Package wserver pushes consensus events to websocket subscribers.
package wserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/annchain/dagconsensus/common/goroutine"
	"github.com/annchain/dagconsensus/eventbus"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

const serverDefaultWSPath = "/ws"

var defaultUpgrader = &websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

type outgoing struct {
	topic   string
	payload interface{}
}

// Server streams commits and own blocks. It listens on the event bus, where
// HandleEvent runs on the core thread, so events are queued and dropped when
// the queue is full instead of waiting for slow clients.
type Server struct {
	Addr      string
	WSPath    string
	QueueSize int
	Logger    *logrus.Logger

	subscriptions *subscriptions
	queue         chan outgoing
	dropped       *atomic.Uint64
	engine        *gin.Engine
	server        *http.Server
	quit          chan struct{}
	wg            sync.WaitGroup
	stopOnce      sync.Once
}

func NewServer(addr string, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		Addr:          addr,
		WSPath:        serverDefaultWSPath,
		QueueSize:     1024,
		Logger:        logger,
		subscriptions: newSubscriptions(),
		dropped:       atomic.NewUint64(0),
		quit:          make(chan struct{}),
	}
	s.queue = make(chan outgoing, s.QueueSize)

	wh := &websocketHandler{
		upgrader:      defaultUpgrader,
		subscriptions: s.subscriptions,
		logger:        logger.WithField("module", "wserver"),
	}
	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.engine.GET(s.WSPath, wh.Handle)
	s.server = &http.Server{
		Addr:    s.Addr,
		Handler: s.engine,
	}
	return s
}

// Handler exposes the routes, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Start() {
	s.wg.Add(1)
	goroutine.New(s.loop)
	goroutine.New(func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.Logger.WithError(err).Error("websocket server")
		}
	})
}

func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })
	s.wg.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.Logger.WithError(err).Info("websocket server shutdown")
	}
	for _, topic := range []string{TopicCommits, TopicOwnBlocks} {
		for _, c := range s.subscriptions.get(topic) {
			c.Close()
		}
	}
}

func (s *Server) Name() string {
	return fmt.Sprintf("websocket server at %s", s.Addr)
}

func (s *Server) HandlerDescription(ev eventbus.EventType) string {
	switch ev {
	case eventbus.CommitEventType:
		return "PushCommit"
	case eventbus.NewBlockEventType:
		return "PushOwnBlock"
	}
	return "N/A"
}

func (s *Server) HandleEvent(ev eventbus.Event) {
	var o outgoing
	switch e := ev.(type) {
	case *eventbus.CommitEvent:
		o = outgoing{topic: TopicCommits, payload: commitMessage(e.SubDag)}
	case *eventbus.NewBlockEvent:
		o = outgoing{topic: TopicOwnBlocks, payload: blockMessage(e.Block)}
	default:
		return
	}
	select {
	case s.queue <- o:
	default:
		if s.dropped.Inc()%100 == 1 {
			s.Logger.WithField("dropped", s.dropped.Load()).Warn("websocket queue full, dropping events")
		}
	}
}

// Subscribers is the number of connected clients with a subscription.
func (s *Server) Subscribers() int {
	return s.subscriptions.count()
}

func (s *Server) GetBenchmarks() map[string]interface{} {
	return map[string]interface{}{
		"queue":       len(s.queue),
		"dropped":     s.dropped.Load(),
		"subscribers": s.Subscribers(),
	}
}

func (s *Server) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case o := <-s.queue:
			s.push(o)
		}
	}
}

func (s *Server) push(o outgoing) int {
	conns := s.subscriptions.get(o.topic)
	if len(conns) == 0 {
		return 0
	}
	bs, err := json.Marshal(o.payload)
	if err != nil {
		s.Logger.WithError(err).Error("failed to marshal ws message")
		return 0
	}
	sent := 0
	for _, c := range conns {
		if _, err := c.Write(bs); err != nil {
			s.Logger.WithError(err).WithField("conn", c.ID()).Debug("dropping websocket client")
			c.Close()
			continue
		}
		sent++
	}
	return sent
}

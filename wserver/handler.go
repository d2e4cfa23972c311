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

package wserver

import (
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// RegisterMessage is what a client sends after connecting to pick a topic.
type RegisterMessage struct {
	Event string `json:"event"`
}

type websocketHandler struct {
	upgrader      *websocket.Upgrader
	subscriptions *subscriptions
	logger        *logrus.Entry
}

// Handle upgrades the request and keeps the connection until the client
// closes it or the server drops it.
func (wh *websocketHandler) Handle(ctx *gin.Context) {
	wsConn, err := wh.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		wh.logger.WithError(err).Debug("websocket upgrade failed")
		return
	}
	conn := NewConn(wsConn)
	conn.AfterReadFunc = func(messageType int, r io.Reader) {
		var rm RegisterMessage
		if err := json.NewDecoder(r).Decode(&rm); err != nil {
			wh.logger.WithError(err).Debug("bad register message")
			return
		}
		switch rm.Event {
		case TopicCommits, TopicOwnBlocks:
			wh.subscriptions.add(rm.Event, conn)
			wh.logger.WithFields(logrus.Fields{
				"conn":  conn.ID(),
				"event": rm.Event,
			}).Debug("subscribed")
		default:
			wh.logger.WithField("event", rm.Event).Debug("unknown event")
		}
	}
	conn.BeforeCloseFunc = func() {
		wh.subscriptions.removeAll(conn)
	}
	conn.Listen()
}

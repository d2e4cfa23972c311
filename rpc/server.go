package rpc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/annchain/dagconsensus/common/goroutine"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const ShutdownTimeoutSeconds = 5

type RpcServer struct {
	router *gin.Engine
	server *http.Server
	port   string
	logger *logrus.Logger
}

func NewRpcServer(port string, controller *RpcController) *RpcServer {
	router := controller.Newrouter()
	return &RpcServer{
		port:   port,
		router: router,
		server: &http.Server{
			Addr:    ":" + port,
			Handler: router,
		},
		logger: controller.logger(),
	}
}

func (srv *RpcServer) Start() {
	srv.logger.Infof("Listening Http on %s", srv.port)
	goroutine.New(func() {
		if err := srv.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srv.logger.WithError(err).Error("Error in Http server")
		}
	})
}

func (srv *RpcServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeoutSeconds*time.Second)
	defer cancel()
	if err := srv.server.Shutdown(ctx); err != nil {
		srv.logger.WithError(err).Error("Error while shutting down the Http server")
	}
	srv.logger.Infof("Http server Stopped")
}

func (srv *RpcServer) Name() string {
	return fmt.Sprintf("RpcServer at port %s", srv.port)
}

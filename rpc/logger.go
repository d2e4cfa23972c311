package rpc

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

var requestId = atomic.NewUint32(0)

// ginLogFormatter routes gin access logs into logrus at trace level.
func ginLogFormatter(logger *logrus.Logger) gin.LogFormatter {
	return func(param gin.LogFormatterParams) string {
		if !logger.IsLevelEnabled(logrus.TraceLevel) {
			return ""
		}
		if param.Latency > time.Minute {
			param.Latency = param.Latency - param.Latency%time.Second
		}
		logger.Tracef("gin log %s", fmt.Sprintf("GIN %v %3d %13v %15s %-7s %s %s id_%d",
			param.TimeStamp.Format("2006/01/02 - 15:04:05"),
			param.StatusCode,
			param.Latency,
			param.ClientIP,
			param.Method,
			param.Path,
			param.ErrorMessage,
			requestId.Inc(),
		))
		return ""
	}
}

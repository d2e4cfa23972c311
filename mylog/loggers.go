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

package mylog

import (
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/annchain/dagconsensus/common/utilfuncs"
	logrustash "github.com/bshuster-repo/logrus-logstash-hook"
	rotatelogs "github.com/lestrrat/go-file-rotatelogs"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
)

type LogConfig struct {
	Dir              string
	Level            string
	Stdout           bool
	File             bool
	LineNumber       bool
	MultifileByLevel bool
	// host:port of a logstash tcp input, empty to disable
	LogstashAddr string
	LogstashApp  string
}

func RotateLog(abspath string) *rotatelogs.RotateLogs {
	logFile, err := rotatelogs.New(
		abspath+"%Y%m%d%H%M.log",
		rotatelogs.WithLinkName(abspath+".log"),
		rotatelogs.WithMaxAge(24*time.Hour*7),
		rotatelogs.WithRotationTime(time.Hour*24),
	)
	utilfuncs.PanicIfError(err, "err init log")
	return logFile
}

func ParseLevel(level string) logrus.Level {
	switch level {
	case "panic":
		return logrus.PanicLevel
	case "fatal":
		return logrus.FatalLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	case "trace":
		return logrus.TraceLevel
	default:
		fmt.Println("Unknown level: ", level, "Set to INFO")
		return logrus.InfoLevel
	}
}

func newFormatter(colors bool) *logrus.TextFormatter {
	formatter := new(logrus.TextFormatter)
	formatter.ForceColors = colors
	formatter.TimestampFormat = "2006-01-02 15:04:05.000000"
	formatter.FullTimestamp = true
	return formatter
}

// InitLogger configures the given logger (usually logrus.StandardLogger())
// according to the config: stdout and/or rotating files, per level files
// through lfshook, and an optional logstash shipper.
func InitLogger(logger *logrus.Logger, config LogConfig) {
	var writers []io.Writer
	formatter := newFormatter(config.Stdout)

	if config.File {
		folderPath, err := filepath.Abs(config.Dir)
		utilfuncs.PanicIfError(err, fmt.Sprintf("Error on parsing log path: %s", config.Dir))

		abspath, err := filepath.Abs(path.Join(config.Dir, "run"))
		utilfuncs.PanicIfError(err, fmt.Sprintf("Error on parsing log file path: %s", config.Dir))

		err = os.MkdirAll(folderPath, os.ModePerm)
		utilfuncs.PanicIfError(err, fmt.Sprintf("Error on creating log dir: %s", folderPath))
		writers = append(writers, RotateLog(abspath))
	}
	if config.Stdout {
		writers = append(writers, os.Stdout)
	}
	switch len(writers) {
	case 0:
		logger.SetOutput(ioutil.Discard)
	case 1:
		logger.SetOutput(writers[0])
	default:
		logger.SetOutput(io.MultiWriter(writers...))
	}
	logger.SetLevel(ParseLevel(config.Level))
	logger.SetFormatter(formatter)
	logger.SetReportCaller(config.LineNumber)

	if config.MultifileByLevel && config.File {
		writerMap := lfshook.WriterMap{}
		for _, level := range logrus.AllLevels {
			p, _ := filepath.Abs(path.Join(config.Dir, level.String()))
			writerMap[level] = RotateLog(p)
		}
		logger.AddHook(lfshook.NewHook(writerMap, formatter))
	}
	if config.LogstashAddr != "" {
		AddLogstashHook(logger, config.LogstashAddr, config.LogstashApp)
	}
	logger.Debug("Logger initialized.")
}

// AddLogstashHook ships every entry to a logstash tcp input. Failure to
// connect only disables the hook.
func AddLogstashHook(logger *logrus.Logger, addr string, app string) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		logger.WithError(err).Warn("socket logger is not enabled")
		return
	}
	hook, err := logrustash.NewHookWithConn(conn, app)
	if err != nil {
		logger.WithError(err).Warn("socket logger is not enabled")
		return
	}
	logger.AddHook(hook)
}

type AddAuthorityLogHook struct {
	Id string
}

func (a AddAuthorityLogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (a AddAuthorityLogHook) Fire(e *logrus.Entry) error {
	e.Message = fmt.Sprintf("[%s] ", a.Id) + e.Message
	return nil
}

// NewAuthorityLogger derives a logger that shares the output and level of
// base and prefixes every message with the authority id. Several
// authorities running in one process stay distinguishable this way.
func NewAuthorityLogger(base *logrus.Logger, id int) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(base.Out)
	logger.SetFormatter(base.Formatter)
	logger.SetLevel(base.Level)
	logger.SetReportCaller(base.ReportCaller)
	added := make(map[logrus.Hook]bool)
	for _, hooks := range base.Hooks {
		for _, h := range hooks {
			if added[h] {
				continue
			}
			added[h] = true
			logger.AddHook(h)
		}
	}
	logger.AddHook(AddAuthorityLogHook{Id: fmt.Sprintf("%d", id)})
	return logger
}

package goroutine

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

var running = atomic.NewInt32(0)

// Running returns the number of goroutines started by New that are still alive.
func Running() int32 {
	return running.Load()
}

// New starts a background loop. A panic inside it is dumped to a file and
// then re-raised so the process stops instead of running half broken.
func New(function func()) {
	running.Inc()
	go func() {
		defer running.Dec()
		defer DumpStack(true)
		function()
	}()
}

func DumpStack(exitIFPanic bool) {
	if err := recover(); err != nil {
		logrus.WithField("obj", err).Error("Fatal error occurred. Program will exit")
		var buf bytes.Buffer
		stack := debug.Stack()
		buf.WriteString(fmt.Sprintf("Panic: %v\n", err))
		buf.Write(stack)
		dumpName := "dump_" + time.Now().Format("20060102-150405")
		nerr := ioutil.WriteFile(dumpName, buf.Bytes(), 0644)
		if nerr != nil {
			fmt.Println("write dump file error", nerr)
			fmt.Println(buf.String())
		}
		logrus.Errorf("panic %v ", buf.String())
		if exitIFPanic {
			panic(err)
		}
	}
}

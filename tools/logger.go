package tools

import (
	"fmt"
	"time"

	"github.com/golang/glog"
)

var (
	isEnabled      = true
	printTimestamp = true
)

func DisableLogger() {
	isEnabled = false
}

func DisableLoggerTimestamp() {
	printTimestamp = false
}

// Prints user facing output of the command line tool. Disabled by the -silent flag.
func LogOutput(val ...interface{}) {
	if !isEnabled {
		return
	}
	line := fmt.Sprintln(val...)
	if printTimestamp {
		line = "[" + time.Now().Format("2006-01-02 15.04:05.000") + "] " + line
	}
	glog.Info(line)
}

package logflags

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var debugger = false
var scanner = false
var pathfind = false
var rest = false
var native = false

var logOut io.Writer

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	lf := logrus.New()
	lf.Formatter = textFormatter()
	if logOut != nil {
		lf.Out = logOut
	}
	lf.Level = logrus.PanicLevel
	if flag {
		lf.Level = logrus.DebugLevel
	}
	return lf.WithFields(fields)
}

func textFormatter() logrus.Formatter {
	ft := &logrus.TextFormatter{FullTimestamp: true}
	if logOut == nil && isatty.IsTerminal(os.Stderr.Fd()) {
		ft.ForceColors = true
	}
	return ft
}

// Debugger returns true if the debugger package should log.
func Debugger() bool {
	return debugger
}

// DebuggerLogger returns a logger for the debugger package.
func DebuggerLogger() *logrus.Entry {
	return makeLogger(debugger, logrus.Fields{"layer": "debugger"})
}

// Scanner returns true if the memory scanner should log.
func Scanner() bool {
	return scanner
}

// ScannerLogger returns a logger for the memory scanner.
func ScannerLogger() *logrus.Entry {
	return makeLogger(scanner, logrus.Fields{"layer": "scan"})
}

// PathFind returns true if the pointer path finder should log.
func PathFind() bool {
	return pathfind
}

// PathFindLogger returns a logger for the pointer path finder.
func PathFindLogger() *logrus.Entry {
	return makeLogger(pathfind, logrus.Fields{"layer": "pathfind"})
}

// REST returns true if HTTP requests should be logged.
func REST() bool {
	return rest
}

// RESTLogger returns a logger for the HTTP layer.
func RESTLogger() *logrus.Entry {
	return makeLogger(rest, logrus.Fields{"layer": "rest"})
}

// Native returns true if the native process-access layer should log.
func Native() bool {
	return native
}

// NativeLogger returns a logger for the native process-access layer.
func NativeLogger() *logrus.Entry {
	return makeLogger(native, logrus.Fields{"layer": "native"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets the logging layers based on the contents of logstr, and
// redirects output to logDest if it is non-empty.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		f, err := os.OpenFile(logDest, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("could not open log destination: %w", err)
		}
		logOut = f
	} else if isatty.IsTerminal(os.Stderr.Fd()) {
		logOut = colorable.NewColorableStderr()
	}
	if !logFlag {
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "debugger"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "debugger":
			debugger = true
		case "scan":
			scanner = true
		case "pathfind":
			pathfind = true
		case "rest":
			rest = true
		case "native":
			native = true
		default:
			return fmt.Errorf("invalid log layer %q", logcmd)
		}
	}
	return nil
}

package logging

import (
	"fmt"
	"io"
	"os"
)

// EarlyLog writes plain lines before the structured logger is configured.
type EarlyLog struct {
	component string
	out       io.Writer
	exit      func(int)
}

func NewEarlyLog(component string) *EarlyLog {
	return &EarlyLog{component: component, out: os.Stderr, exit: os.Exit}
}

func (l *EarlyLog) write(level, msg string, args ...interface{}) {
	fmt.Fprintf(l.out, "%s [%s] %s\n", level, l.component, fmt.Sprintf(msg, args...))
}

// Fatal logs and terminates the process.
func (l *EarlyLog) Fatal(msg string, args ...interface{}) {
	l.write("FATAL", msg, args...)
	l.exit(1)
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	l.write("ERROR", msg, args...)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	l.write("WARN", msg, args...)
}

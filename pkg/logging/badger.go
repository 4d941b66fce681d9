package logging

import (
	"fmt"
	"strings"
)

// BadgerLogger adapts Logger to badger.Logger so storage engine messages end
// up in the same structured stream.
type BadgerLogger struct {
	l *Logger
}

// Badger returns a badger.Logger backed by l.
func (l *Logger) Badger() *BadgerLogger {
	return &BadgerLogger{l: l.WithComponent("badger")}
}

func (b *BadgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(trim(format, args))
}

func (b *BadgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn(trim(format, args))
}

func (b *BadgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debug(trim(format, args))
}

func (b *BadgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug(trim(format, args))
}

func trim(format string, args []interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}

// Copyright (c) the qldbdriver-go contributors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log defines the logging boundary used throughout the driver.
//
// The driver never logs directly to stdout/stderr; every component holds
// a Logger and routes through it, the same separation of concerns used
// by the session/transaction layers this package supports.
package log

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Name identifies which driver component emitted a log entry.
type Name string

const (
	Driver      Name = "driver"
	Session     Name = "session"
	Transaction Name = "transaction"
	Pool        Name = "pool"
	Result      Name = "result"
)

// Logger is the minimal interface the driver needs from a logging backend.
// Implement it to plug in any logging framework; NewLogrusLogger wraps the
// package default.
type Logger interface {
	Debugf(name Name, id string, format string, args ...interface{})
	Infof(name Name, id string, format string, args ...interface{})
	Warnf(name Name, id string, format string, args ...interface{})
	Errorf(name Name, id string, err error, format string, args ...interface{})
}

// logrusLogger adapts Logger onto a *logrus.Logger, mirroring the
// structured-field style logrus is normally used with.
type logrusLogger struct {
	entry *logrus.Logger
}

// NewLogrusLogger returns the driver's default Logger implementation.
func NewLogrusLogger(level logrus.Level) Logger {
	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logrusLogger{entry: l}
}

func (l *logrusLogger) fields(name Name, id string) logrus.Fields {
	return logrus.Fields{"component": string(name), "id": id}
}

func (l *logrusLogger) Debugf(name Name, id string, format string, args ...interface{}) {
	l.entry.WithFields(l.fields(name, id)).Debugf(format, args...)
}

func (l *logrusLogger) Infof(name Name, id string, format string, args ...interface{}) {
	l.entry.WithFields(l.fields(name, id)).Infof(format, args...)
}

func (l *logrusLogger) Warnf(name Name, id string, format string, args ...interface{}) {
	l.entry.WithFields(l.fields(name, id)).Warnf(format, args...)
}

func (l *logrusLogger) Errorf(name Name, id string, err error, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.entry.WithFields(l.fields(name, id)).WithError(err).Error(msg)
}

// Default returns the driver's default Logger: logrus at info level.
func Default() Logger { return NewLogrusLogger(logrus.InfoLevel) }

// NopLogger discards everything. Useful as a test default.
type NopLogger struct{}

func (NopLogger) Debugf(Name, string, string, ...interface{})      {}
func (NopLogger) Infof(Name, string, string, ...interface{})       {}
func (NopLogger) Warnf(Name, string, string, ...interface{})       {}
func (NopLogger) Errorf(Name, string, error, string, ...interface{}) {}

/*
Copyright 2024 The Dapr Authors
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package log is the logging facade shared by the Workload API client, the
// source engine, and the keystore helper. It mirrors dapr/kit/logger's
// interface shape, trimmed to what a library (as opposed to a dapr runtime
// component) needs: no dapr_id/app-id scoping, no JSON-vs-text toggle.
package log

import "github.com/sirupsen/logrus"

// Logger is the logging interface accepted throughout this module. Callers
// that already use logrus can pass it in directly via New; everyone else
// gets Nop by default, so the library stays silent unless asked otherwise.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	// WithFields returns a Logger with the given structured fields attached
	// to every subsequent message.
	WithFields(fields map[string]interface{}) Logger
}

type logrusLogger struct {
	entry *logrus.Entry
}

// New wraps a *logrus.Entry (or logrus.StandardLogger().WithFields(nil)) as
// a Logger.
func New(entry *logrus.Entry) Logger {
	return &logrusLogger{entry: entry}
}

// Default returns a Logger writing to logrus' standard logger, with the
// field scope=go-workloadapi attached.
func Default() Logger {
	return New(logrus.WithField("scope", "go-workloadapi"))
}

func (l *logrusLogger) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Info(args ...interface{})                  { l.entry.Info(args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warn(args ...interface{})                  { l.entry.Warn(args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithFields(fields)}
}

type nopLogger struct{}

// Nop is a Logger that discards everything. It is the zero-value-friendly
// default used whenever a caller doesn't supply one of their own.
func Nop() Logger { return nopLogger{} }

func (nopLogger) Debug(args ...interface{})                          {}
func (nopLogger) Debugf(format string, args ...interface{})          {}
func (nopLogger) Info(args ...interface{})                           {}
func (nopLogger) Infof(format string, args ...interface{})           {}
func (nopLogger) Warn(args ...interface{})                           {}
func (nopLogger) Warnf(format string, args ...interface{})           {}
func (nopLogger) Error(args ...interface{})                          {}
func (nopLogger) Errorf(format string, args ...interface{})          {}
func (nopLogger) WithFields(fields map[string]interface{}) Logger    { return nopLogger{} }

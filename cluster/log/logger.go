//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2024 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

// Package log adapts our logrus logger to the hclog interface that
// hashicorp/raft expects, so raft internals log through the application
// logger instead of a second logging pipeline.
package log

import (
	"fmt"
	"io"
	stdlog "log"

	"github.com/hashicorp/go-hclog"
	"github.com/sirupsen/logrus"
)

// NewHCLogrusLogger returns an hclog.Logger forwarding to the given
// logrus logger. The name ends up as the "component" field of every line.
func NewHCLogrusLogger(name string, logger *logrus.Logger) hclog.Logger {
	return &hclogrus{name: name, base: logger, entry: logger.WithField("component", name)}
}

type hclogrus struct {
	name  string
	base  *logrus.Logger
	entry *logrus.Entry
}

func (l *hclogrus) Log(level hclog.Level, msg string, args ...interface{}) {
	entry := l.entry.WithFields(argsToFields(args))
	switch level {
	case hclog.Trace:
		entry.Trace(msg)
	case hclog.Debug:
		entry.Debug(msg)
	case hclog.Info, hclog.NoLevel:
		entry.Info(msg)
	case hclog.Warn:
		entry.Warn(msg)
	case hclog.Error:
		entry.Error(msg)
	}
}

func (l *hclogrus) Trace(msg string, args ...interface{}) { l.Log(hclog.Trace, msg, args...) }
func (l *hclogrus) Debug(msg string, args ...interface{}) { l.Log(hclog.Debug, msg, args...) }
func (l *hclogrus) Info(msg string, args ...interface{})  { l.Log(hclog.Info, msg, args...) }
func (l *hclogrus) Warn(msg string, args ...interface{})  { l.Log(hclog.Warn, msg, args...) }
func (l *hclogrus) Error(msg string, args ...interface{}) { l.Log(hclog.Error, msg, args...) }

func (l *hclogrus) IsTrace() bool { return l.base.IsLevelEnabled(logrus.TraceLevel) }
func (l *hclogrus) IsDebug() bool { return l.base.IsLevelEnabled(logrus.DebugLevel) }
func (l *hclogrus) IsInfo() bool  { return l.base.IsLevelEnabled(logrus.InfoLevel) }
func (l *hclogrus) IsWarn() bool  { return l.base.IsLevelEnabled(logrus.WarnLevel) }
func (l *hclogrus) IsError() bool { return l.base.IsLevelEnabled(logrus.ErrorLevel) }

func (l *hclogrus) ImpliedArgs() []interface{} { return nil }

func (l *hclogrus) With(args ...interface{}) hclog.Logger {
	return &hclogrus{
		name:  l.name,
		base:  l.base,
		entry: l.entry.WithFields(argsToFields(args)),
	}
}

func (l *hclogrus) Name() string { return l.name }

func (l *hclogrus) Named(name string) hclog.Logger {
	return NewHCLogrusLogger(l.name+"."+name, l.base)
}

func (l *hclogrus) ResetNamed(name string) hclog.Logger {
	return NewHCLogrusLogger(name, l.base)
}

func (l *hclogrus) SetLevel(level hclog.Level) {
	switch level {
	case hclog.Trace:
		l.base.SetLevel(logrus.TraceLevel)
	case hclog.Debug:
		l.base.SetLevel(logrus.DebugLevel)
	case hclog.Info:
		l.base.SetLevel(logrus.InfoLevel)
	case hclog.Warn:
		l.base.SetLevel(logrus.WarnLevel)
	case hclog.Error:
		l.base.SetLevel(logrus.ErrorLevel)
	}
}

func (l *hclogrus) GetLevel() hclog.Level {
	switch l.base.GetLevel() {
	case logrus.TraceLevel:
		return hclog.Trace
	case logrus.DebugLevel:
		return hclog.Debug
	case logrus.WarnLevel:
		return hclog.Warn
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return hclog.Error
	}
	return hclog.Info
}

func (l *hclogrus) StandardLogger(opts *hclog.StandardLoggerOptions) *stdlog.Logger {
	return stdlog.New(l.StandardWriter(opts), "", 0)
}

func (l *hclogrus) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	return l.base.Writer()
}

// argsToFields converts hclog's alternating key/value args. A dangling
// key keeps hclog's convention and is logged under EXTRA_VALUE_AT_END.
func argsToFields(args []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(args); i += 2 {
		fields[fmt.Sprint(args[i])] = args[i+1]
	}
	if len(args)%2 == 1 {
		fields["EXTRA_VALUE_AT_END"] = args[len(args)-1]
	}
	return fields
}

// Copyright 2024 The Rankserver Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// The service logs structured JSON everywhere. Serving logs go to stdout, and when a
// log file is configured ingest and reload activity is duplicated there, optionally
// rotated. Startup messages always reach both sinks.

// SetupLogging builds the runtime logger and the startup logger from the logger
// configuration. The two differ only when a log file is configured without stdout
// logging, then startup messages still go to both sinks.
func SetupLogging(tmpLogger *zap.Logger, config Config) (*zap.Logger, *zap.Logger) {
	level := parseLevel(tmpLogger, config.GetLogger().Level)

	consoleLogger := NewJSONLogger(os.Stdout, level)

	fileLogger := newFileLogger(consoleLogger, config.GetLogger(), level)
	if fileLogger == nil {
		RedirectStdLog(consoleLogger)
		return consoleLogger, consoleLogger
	}

	multiLogger := NewMultiLogger(consoleLogger, fileLogger)
	if config.GetLogger().Stdout {
		RedirectStdLog(multiLogger)
		return multiLogger, multiLogger
	}
	RedirectStdLog(fileLogger)
	return fileLogger, multiLogger
}

func parseLevel(tmpLogger *zap.Logger, name string) zapcore.Level {
	if name == "" {
		return zapcore.InfoLevel
	}
	level, err := zapcore.ParseLevel(strings.ToLower(name))
	if err != nil {
		tmpLogger.Fatal("Logger level invalid, must be one of: DEBUG, INFO, WARN, or ERROR",
			zap.String("level", name))
	}
	return level
}

// NewJSONLogger returns a logger writing JSON lines to the given file, with caller
// annotations and stack traces from error level up.
func NewJSONLogger(output *os.File, level zapcore.Level) *zap.Logger {
	core := zapcore.NewCore(rankserverEncoder(), zapcore.Lock(output), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

// newFileLogger returns the log file sink, nil when no file is configured. The file
// is rotated by lumberjack when rotation is enabled.
func newFileLogger(consoleLogger *zap.Logger, config *LoggerConfig, level zapcore.Level) *zap.Logger {
	if len(config.File) == 0 {
		return nil
	}

	logDir := filepath.Dir(config.File)
	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			consoleLogger.Fatal("Could not create log directory",
				zap.String("dir", logDir), zap.Error(err))
			return nil
		}
	}

	var sink zapcore.WriteSyncer
	if config.Rotation {
		// lumberjack.Logger is safe for concurrent use, no extra locking needed.
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSize,
			MaxAge:     config.MaxAge,
			MaxBackups: config.MaxBackups,
			LocalTime:  config.LocalTime,
			Compress:   config.Compress,
		})
	} else {
		output, err := os.OpenFile(config.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			consoleLogger.Fatal("Could not open log file",
				zap.String("file", config.File), zap.Error(err))
			return nil
		}
		sink = zapcore.Lock(output)
	}

	core := zapcore.NewCore(rankserverEncoder(), sink, level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

// NewMultiLogger tees entries to all the given loggers.
func NewMultiLogger(loggers ...*zap.Logger) *zap.Logger {
	cores := make([]zapcore.Core, 0, len(loggers))
	for _, logger := range loggers {
		cores = append(cores, logger.Core())
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

func rankserverEncoder() zapcore.Encoder {
	return zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	})
}

// stdLogWriter funnels the standard library's global logger into zap, so net/http
// and database driver output lands in the same JSON stream.
type stdLogWriter struct {
	logger *zap.Logger
}

func (w *stdLogWriter) Write(p []byte) (int, error) {
	s := string(bytes.TrimSpace(p))
	if strings.Contains(s, "panic") {
		w.logger.Error(s)
	} else {
		w.logger.Info(s)
	}
	return len(s), nil
}

// RedirectStdLog points the standard library's global logger at the given zap logger.
func RedirectStdLog(logger *zap.Logger) {
	log.SetFlags(0)
	log.SetPrefix("")
	log.SetOutput(&stdLogWriter{logger: logger.WithOptions(zap.AddCallerSkip(3))})
}

// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
)

// The MCP logging levels borrow the RFC 5424 syslog severities, which
// don't line up one-to-one with slog's four built-in levels. These
// extra Level constants fill the gap so a slog.Logger built on
// NewLoggingHandler can express every MCP level.
const (
	LevelNotice    = slog.Level(2)
	LevelCritical  = slog.Level(10)
	LevelAlert     = slog.Level(12)
	LevelEmergency = slog.Level(14)
)

var slogLevelNames = map[slog.Level]LoggingLevel{
	slog.LevelDebug: "debug",
	slog.LevelInfo:  "info",
	LevelNotice:     "notice",
	slog.LevelWarn:  "warning",
	slog.LevelError: "error",
	LevelCritical:   "critical",
	LevelAlert:      "alert",
	LevelEmergency:  "emergency",
}

// mcpLevel maps an slog.Level onto the nearest MCP logging level at or
// below it in severity.
func mcpLevel(l slog.Level) LoggingLevel {
	if name, ok := slogLevelNames[l]; ok {
		return name
	}
	switch {
	case l < slog.LevelInfo:
		return "debug"
	case l < LevelNotice:
		return "info"
	case l < slog.LevelWarn:
		return "notice"
	case l < slog.LevelError:
		return "warning"
	case l < LevelCritical:
		return "error"
	case l < LevelAlert:
		return "critical"
	case l < LevelEmergency:
		return "alert"
	default:
		return "emergency"
	}
}

// LoggingHandlerOptions configures a LoggingHandler.
type LoggingHandlerOptions struct {
	// LoggerName identifies the log messages this handler produces, set as
	// LoggingMessageParams.Logger on every message sent.
	LoggerName string
}

// loggingHandler is an slog.Handler that turns log records into
// notifications/message notifications on a ServerSession, gated by the
// logging level the connected client requested via logging/setLevel.
type loggingHandler struct {
	ss    *ServerSession
	opts  LoggingHandlerOptions
	attrs []slog.Attr
}

// NewLoggingHandler returns an slog.Handler that reports log records to
// the client of ss as notifications/message notifications. Records below
// the level the client requested via logging/setLevel are dropped.
func NewLoggingHandler(ss *ServerSession, opts *LoggingHandlerOptions) slog.Handler {
	if opts == nil {
		opts = &LoggingHandlerOptions{}
	}
	return &loggingHandler{ss: ss, opts: *opts}
}

func (h *loggingHandler) Enabled(context.Context, slog.Level) bool {
	// Filtering happens in ServerSession.Log, against the level the client
	// actually requested; accept everything here so that request can take
	// effect without re-creating the logger.
	return true
}

func (h *loggingHandler) Handle(ctx context.Context, r slog.Record) error {
	data := make(map[string]any, r.NumAttrs()+len(h.attrs)+1)
	data["msg"] = r.Message
	for _, a := range h.attrs {
		data[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})

	// Round-trip through JSON so the values seen by the client match what
	// they'd get decoding the notification off the wire (e.g. integers
	// become float64), regardless of the concrete Go types logged.
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var normalized map[string]any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return err
	}

	return h.ss.Log(ctx, &LoggingMessageParams{
		Logger: h.opts.LoggerName,
		Level:  mcpLevel(r.Level),
		Data:   normalized,
	})
}

func (h *loggingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &loggingHandler{ss: h.ss, opts: h.opts}
	next.attrs = append(next.attrs, h.attrs...)
	next.attrs = append(next.attrs, attrs...)
	return next
}

func (h *loggingHandler) WithGroup(name string) slog.Handler {
	// Groups aren't meaningful for the flat Data map notifications/message
	// carries; ungrouped attrs are still reported under their own keys.
	return h
}

// ============================================================================
// Colony Logging - tag and level filtering over log/slog
// ============================================================================
//
// Package: internal/logging
// File: logging.go
// Purpose: Wraps a slog.Handler so records below a minimum level, or carrying
//          a "tag" attribute outside the allow-list, are dropped.
//
// Usage:
//   logger := logging.New(os.Stderr, logging.Options{MinLevel: slog.LevelInfo, Tags: []string{"manager"}})
//   log := logging.Tagged(logger, "manager")
//   log.Info("Job assigned", "id", job.ID)
//
// Untagged records are never filtered by tag. An empty allow-list or one
// containing "*" allows every tag.
//
// ============================================================================

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// TagKey is the attribute carrying the log tag.
const TagKey = "tag"

// LevelTrace sits below slog.LevelDebug.
const LevelTrace = slog.Level(-8)

// Options configures New.
type Options struct {
	MinLevel slog.Level
	Tags     []string
}

// ParseLevel accepts trace, debug, info, warning (or warn) and error.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warning", "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// FilterHandler drops records by level and tag before delegating.
type FilterHandler struct {
	next  slog.Handler
	min   slog.Level
	allow map[string]bool
	tag   string
}

// NewFilterHandler wraps next.
func NewFilterHandler(next slog.Handler, opts Options) *FilterHandler {
	h := &FilterHandler{next: next, min: opts.MinLevel}
	for _, t := range opts.Tags {
		if t == "*" {
			h.allow = nil
			break
		}
		if h.allow == nil {
			h.allow = make(map[string]bool)
		}
		h.allow[t] = true
	}
	return h
}

func (h *FilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min && h.next.Enabled(ctx, level)
}

func (h *FilterHandler) Handle(ctx context.Context, r slog.Record) error {
	tag := h.tag
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == TagKey {
			tag = a.Value.String()
			return false
		}
		return true
	})
	if !h.allowed(tag) {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *FilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	for _, a := range attrs {
		if a.Key == TagKey {
			clone.tag = a.Value.String()
		}
	}
	clone.next = h.next.WithAttrs(attrs)
	return &clone
}

func (h *FilterHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.next = h.next.WithGroup(name)
	return &clone
}

func (h *FilterHandler) allowed(tag string) bool {
	if tag == "" || h.allow == nil {
		return true
	}
	return h.allow[tag]
}

// New builds a text logger honouring opts.
func New(w io.Writer, opts Options) *slog.Logger {
	text := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: LevelTrace,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	})
	return slog.New(NewFilterHandler(text, opts))
}

// Tagged returns a logger whose records carry tag.
func Tagged(l *slog.Logger, tag string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With(TagKey, tag)
}

// Log writes one tagged record at level.
func Log(l *slog.Logger, tag string, level slog.Level, msg string, args ...any) {
	Tagged(l, tag).Log(context.Background(), level, msg, args...)
}

// Discard returns a logger that writes nothing.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

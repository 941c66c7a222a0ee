package main

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// Log topics, one per component.
const (
	topicActivity  = "activity"
	topicScheduler = "scheduler"
	topicPower     = "power"
	topicPolicy    = "policy"
	topicControl   = "control"
	topicStorage   = "storage"
	topicConfig    = "config"
)

var allTopics = []string{topicActivity, topicScheduler, topicPower, topicPolicy, topicControl, topicStorage, topicConfig}

// topicHandler wraps an slog.Handler and filters records by a "topic" attribute.
// Records without a topic, and warnings and errors from any topic, always
// pass. Other records with a topic only pass if that topic is enabled.
type topicHandler struct {
	inner  slog.Handler
	topics map[string]bool
	topic  string // set when WithAttrs includes a "topic" key
}

func (h *topicHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *topicHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.topics["all"] || r.Level >= slog.LevelWarn {
		return h.inner.Handle(ctx, r)
	}
	topic := h.topic
	if topic == "" {
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "topic" {
				topic = a.Value.String()
				return false
			}
			return true
		})
	}
	if topic != "" && !h.topics[topic] {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *topicHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	topic := h.topic
	for _, a := range attrs {
		if a.Key == "topic" {
			topic = a.Value.String()
		}
	}
	return &topicHandler{inner: h.inner.WithAttrs(attrs), topics: h.topics, topic: topic}
}

func (h *topicHandler) WithGroup(name string) slog.Handler {
	return &topicHandler{inner: h.inner.WithGroup(name), topics: h.topics, topic: h.topic}
}

// newLogger builds the daemon logger. verbose enables every topic; logTopics
// is a comma-separated list.
func newLogger(w io.Writer, verbose bool, logTopics string) *slog.Logger {
	topics := make(map[string]bool)
	if verbose {
		topics["all"] = true
	}
	if logTopics != "" {
		for _, t := range strings.Split(logTopics, ",") {
			topics[strings.TrimSpace(t)] = true
		}
	}

	return slog.New(&topicHandler{
		inner:  slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}),
		topics: topics,
	})
}

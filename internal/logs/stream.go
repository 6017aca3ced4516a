// Copyright 2026 The FlowForge Authors
// SPDX-License-Identifier: Apache-2.0

package logs

import (
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flowforge/flowforge/internal/workflow"
	"github.com/flowforge/flowforge/pkg/hash"
)

// Frame types emitted on the websocket.
const (
	FrameLogs     = "logs"
	FrameComplete = "complete"
	FrameError    = "error"
)

// Frame is one websocket message.
type Frame struct {
	Type   string  `json:"type"`
	Phase  string  `json:"phase,omitempty"`
	Error  string  `json:"error,omitempty"`
	Result *Result `json:"result,omitempty"`
}

// streamInterval is the push-loop tick.
const streamInterval = time.Second

// completeLinger keeps the connection open briefly after the complete
// frame so slow clients receive it before the close handshake.
const completeLinger = 2 * time.Second

// Streamer serves the push surface: it re-executes the pull on a fixed
// tick and emits a frame whenever the phase or the record set changed.
type Streamer struct {
	pipeline *Pipeline
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewStreamer builds a Streamer over the pipeline. Origin checking is
// delegated to the CORS layer; the upgrader accepts all origins.
func NewStreamer(pipeline *Pipeline, logger *slog.Logger) *Streamer {
	return &Streamer{
		pipeline: pipeline,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Stream upgrades the connection and pushes log updates for the latest
// run of the task until the run reaches a terminal phase or the client
// disconnects. Client-closed connections are normal, not errors.
func (s *Streamer) Stream(w http.ResponseWriter, r *http.Request, taskID string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx := r.Context()

	result, err := s.pipeline.Pull(ctx, taskID, nil)
	if err != nil {
		_ = conn.WriteJSON(Frame{Type: FrameError, Error: err.Error()})
		return
	}
	if err := conn.WriteJSON(Frame{Type: FrameLogs, Phase: result.Phase, Result: result}); err != nil {
		return
	}
	lastHash := resultHash(result)

	// Drain client messages so close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		result, err := s.pipeline.Pull(ctx, taskID, nil)
		if err != nil {
			// Engine or store hiccup: keep the stream alive and retry on
			// the next tick.
			s.logger.Warn("log pull failed during stream",
				slog.String("task_id", taskID),
				slog.Any("error", err))
			continue
		}

		if h := resultHash(result); h != lastHash {
			lastHash = h
			if err := conn.WriteJSON(Frame{Type: FrameLogs, Phase: result.Phase, Result: result}); err != nil {
				return
			}
		}

		if workflow.Phase(result.Phase).IsTerminal() {
			_ = conn.WriteJSON(Frame{Type: FrameComplete, Phase: result.Phase})
			time.Sleep(completeLinger)
			return
		}
	}
}

// resultHash computes a canonical hash of the phase plus the sorted
// record list, so emission is skipped when nothing changed.
func resultHash(result *Result) string {
	records := make([]Record, len(result.Records))
	copy(records, result.Records)
	sort.Slice(records, func(i, j int) bool {
		if records[i].NodeID != records[j].NodeID {
			return records[i].NodeID < records[j].NodeID
		}
		return records[i].PodName < records[j].PodName
	})
	return hash.ComputeHash(struct {
		Phase   string
		Records []Record
	}{result.Phase, records})
}

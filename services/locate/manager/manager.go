// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package manager runs a bounded search session: it pulls model replies
// from the conversation driver, dispatches the selected search primitives,
// records every call in the audit trail, and resolves the model's final
// candidates into bug locations.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/faultline/services/llm"
	"github.com/AleutianAI/faultline/services/locate/conversation"
	"github.com/AleutianAI/faultline/services/locate/parse"
	"github.com/AleutianAI/faultline/services/locate/proxy"
	"github.com/AleutianAI/faultline/services/locate/search"
	"github.com/AleutianAI/faultline/services/locate/storage"
)

// Terminal session statuses.
const (
	StatusDone      = "done"
	StatusExhausted = "exhausted"
	StatusFailed    = "failed"
)

// Config is the explicit configuration of a Manager.
type Config struct {
	// ProjectRoot is the absolute root of the indexed project.
	ProjectRoot string

	// OutputDir receives tool_call_layers.json, bug_locations.json and the
	// per-round transcripts.
	OutputDir string

	// ConvRoundLimit bounds the number of model replies handled. Must be >= 1.
	ConvRoundLimit int

	// EnableSBFL primes the fault-localization report into the thread.
	EnableSBFL bool

	// ReproduceAndReview primes the reproduction output into the thread.
	ReproduceAndReview bool

	// ChatOptions are passed on every reasoning-model call.
	ChatOptions llm.ChatOptions

	// Prompts overrides the embedded prompt catalog.
	Prompts *conversation.Prompts

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Task is the input of one search session.
type Task struct {
	// SessionID names the session. A fresh id is minted when empty.
	SessionID  string
	Issue      string
	SBFL       string
	Reproducer string
}

// Outcome is what a session produced, complete or partial.
type Outcome struct {
	SessionID    string
	Status       string
	Rounds       int
	BugLocations []search.BugLocation
	Thread       *conversation.MessageThread
}

// Normalizer rewrites free-form text into API-selection JSON.
type Normalizer interface {
	Normalize(ctx context.Context, text string) (string, *conversation.MessageThread, error)
}

// Archiver keeps finished sessions.
type Archiver interface {
	Save(ctx context.Context, rec storage.SessionRecord) (storage.SessionMeta, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithNormalizer enables the proxy pass for replies that do not decode.
func WithNormalizer(n Normalizer) Option {
	return func(m *Manager) { m.proxy = n }
}

// WithArchive stores every finished session in a.
func WithArchive(a Archiver) Option {
	return func(m *Manager) { m.archive = a }
}

// Manager drives search sessions.
//
// Thread Safety: One session runs at a time per Manager. The audit trail
// accessors are safe for concurrent use.
type Manager struct {
	cfg      Config
	client   llm.ChatClient
	registry *search.Registry
	resolver search.Resolver
	proxy    Normalizer
	archive  Archiver
	prompts  *conversation.Prompts
	logger   *slog.Logger

	mu     sync.Mutex
	layers []ToolCallLayer
}

// New creates a Manager.
//
// Inputs:
//   - cfg: Session configuration. ConvRoundLimit must be >= 1 and OutputDir
//     must be set.
//   - client: The reasoning model.
//   - registry: The model-callable primitives.
//   - resolver: Resolves final candidates into bug locations.
//
// Outputs:
//   - *Manager: The manager.
//   - error: ErrInvalidConfig.
func New(cfg Config, client llm.ChatClient, registry *search.Registry, resolver search.Resolver, opts ...Option) (*Manager, error) {
	switch {
	case cfg.ConvRoundLimit < 1:
		return nil, fmt.Errorf("%w: conv_round_limit must be >= 1, got %d", ErrInvalidConfig, cfg.ConvRoundLimit)
	case cfg.OutputDir == "":
		return nil, fmt.Errorf("%w: output_dir is required", ErrInvalidConfig)
	case client == nil:
		return nil, fmt.Errorf("%w: chat client is nil", ErrInvalidConfig)
	case registry == nil:
		return nil, fmt.Errorf("%w: registry is nil", ErrInvalidConfig)
	case resolver == nil:
		return nil, fmt.Errorf("%w: resolver is nil", ErrInvalidConfig)
	}

	m := &Manager{
		cfg:      cfg,
		client:   client,
		registry: registry,
		resolver: resolver,
		logger:   cfg.Logger,
		layers:   []ToolCallLayer{},
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(m)
	}

	prompts := cfg.Prompts
	if prompts == nil {
		p, err := conversation.DefaultPrompts()
		if err != nil {
			return nil, err
		}
		prompts = p
	}
	m.prompts = prompts.WithTools(registry.Describe())
	return m, nil
}

// SearchIterative runs one search session for task.
//
// Description:
//
//	Each round pulls one model reply and decodes it as an API selection.
//	An undecodable or empty selection is answered with a corrective
//	message. API calls take precedence over bug locations in the same
//	reply: they are dispatched and their results fed back. Bug locations
//	are resolved and end the session. After ConvRoundLimit rounds the
//	driver is told to stop and the session ends with whatever was found.
//
//	The audit trail is written to OutputDir on every exit path. Round
//	transcripts an earlier session left there are removed first.
//
// Inputs:
//   - ctx: Cancels the session.
//   - task: Issue statement and optional hints.
//
// Outputs:
//   - Outcome: Locations, final thread, status and rounds. Partial on error.
//   - error: ErrSessionFailed wrapping the model or driver failure, or
//     ctx's error.
func (m *Manager) SearchIterative(ctx context.Context, task Task) (out Outcome, err error) {
	m.resetLayers()
	out = Outcome{SessionID: task.SessionID, BugLocations: []search.BugLocation{}}
	if out.SessionID == "" {
		out.SessionID = uuid.NewString()
	}
	if err := storage.RemoveRoundTranscripts(m.cfg.OutputDir); err != nil {
		m.logger.Warn("failed to clear stale transcripts", slog.String("error", err.Error()))
	}
	started := time.Now()

	ctx, span := startSessionSpan(ctx, out.SessionID, m.cfg.ProjectRoot, m.cfg.ConvRoundLimit)
	defer span.End()

	m.logger.Info("search session started",
		slog.String("session_id", out.SessionID),
		slog.String("project_root", m.cfg.ProjectRoot),
		slog.Int("round_limit", m.cfg.ConvRoundLimit),
	)

	defer func() {
		if err != nil {
			out.Status = StatusFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, "session failed")
		}
		span.SetAttributes(
			attribute.String("session.status", out.Status),
			attribute.Int("session.rounds", out.Rounds),
			attribute.Int("session.locations", len(out.BugLocations)),
		)
		m.finish(ctx, task, out, started)
	}()

	driver, err := conversation.Start(ctx, m.client, conversation.Session{
		Issue:            task.Issue,
		SBFL:             task.SBFL,
		EnableSBFL:       m.cfg.EnableSBFL,
		Reproducer:       task.Reproducer,
		EnableReproducer: m.cfg.ReproduceAndReview,
	},
		conversation.WithPrompts(m.prompts),
		conversation.WithChatOptions(m.cfg.ChatOptions),
		conversation.WithLogger(m.logger),
	)
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrSessionFailed, err)
	}
	defer driver.Close()

	out.Status = StatusExhausted
	for round := 0; round < m.cfg.ConvRoundLimit; round++ {
		done, err := m.runRound(ctx, driver, round, &out)
		if err != nil {
			return out, err
		}
		if done {
			out.Status = StatusDone
			break
		}
	}
	return out, nil
}

// runRound handles one model reply. It reports whether the session is done.
func (m *Manager) runRound(ctx context.Context, driver *conversation.Driver, round int, out *Outcome) (bool, error) {
	ctx, span := startRoundSpan(ctx, round)
	defer span.End()

	turn, err := driver.Next(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return false, fmt.Errorf("%w: round %d: %w", ErrSessionFailed, round, err)
	}
	if turn.Err != nil {
		if turn.Thread != nil {
			out.Thread = turn.Thread
		}
		return false, fmt.Errorf("%w: round %d: %w", ErrSessionFailed, round, turn.Err)
	}
	out.Rounds = round + 1
	out.Thread = turn.Thread
	m.saveTranscript(round, turn.Thread)

	last := round == m.cfg.ConvRoundLimit-1
	sel, ok, err := m.decode(ctx, turn.Text)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return false, fmt.Errorf("%w: round %d: %w", ErrSessionFailed, round, err)
	}

	var fb conversation.Feedback
	var done bool
	switch {
	case !ok || sel.Empty():
		roundDecisions.WithLabelValues("retry").Inc()
		span.SetAttributes(attribute.String("round.decision", "retry"))
		m.logger.Warn("model reply did not decode to a selection",
			slog.String("session_id", out.SessionID),
			slog.Int("round", round),
		)
		fb = conversation.Feedback{Result: m.prompts.Corrective, ReSearch: !last}

	case len(sel.APICalls) > 0:
		roundDecisions.WithLabelValues("dispatch").Inc()
		span.SetAttributes(
			attribute.String("round.decision", "dispatch"),
			attribute.Int("round.calls", len(sel.APICalls)),
		)
		if len(sel.BugLocations) > 0 {
			m.logger.Debug("ignoring bug locations proposed alongside API calls",
				slog.Int("round", round),
				slog.Int("bug_locations", len(sel.BugLocations)),
			)
		}
		fb = conversation.Feedback{Result: m.dispatch(ctx, sel.APICalls), ReSearch: !last}

	default:
		roundDecisions.WithLabelValues("resolve").Inc()
		span.SetAttributes(
			attribute.String("round.decision", "resolve"),
			attribute.Int("round.candidates", len(sel.BugLocations)),
		)
		out.BugLocations = m.resolveCandidates(ctx, sel.BugLocations)
		fb = conversation.Feedback{ReSearch: false}
		done = true
	}

	if err := driver.Send(ctx, fb); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return done, ctxErr
		}
		return done, fmt.Errorf("%w: round %d: %w", ErrSessionFailed, round, err)
	}
	return done, nil
}

// decode reads an API selection from text, falling back to the proxy
// normalizer when one is configured and direct decoding yields nothing.
// Only a proxy that produced no usable output counts as a decode failure;
// any other proxy error is returned.
func (m *Manager) decode(ctx context.Context, text string) (parse.Selection, bool, error) {
	sel, ok := parse.DecodeSelection(text)
	if (ok && !sel.Empty()) || m.proxy == nil {
		return sel, ok, nil
	}

	normalized, _, err := m.proxy.Normalize(ctx, text)
	if err != nil {
		if !errors.Is(err, proxy.ErrNoValidOutput) {
			return sel, false, fmt.Errorf("proxy normalization: %w", err)
		}
		m.logger.Warn("proxy normalization failed",
			slog.String("error", llm.SafeLogString(err.Error())),
		)
		return sel, ok, nil
	}
	sel, ok = parse.DecodeSelection(normalized)
	return sel, ok, nil
}

// dispatch runs the selected calls in order as a new audit layer and
// returns the concatenated result text.
func (m *Manager) dispatch(ctx context.Context, calls []string) string {
	m.StartNewToolCallLayer()

	var b strings.Builder
	for _, text := range calls {
		msg := m.dispatchOne(ctx, text)
		fmt.Fprintf(&b, "Result of %s:\n\n%s\n\n", text, msg)
	}
	return b.String()
}

func (m *Manager) dispatchOne(ctx context.Context, text string) string {
	call, err := parse.DecodeCall(text)
	if err != nil {
		m.logger.Warn("undecodable API call", slog.String("call", text))
		m.AddToolCallToCurrLayer(text, nil, false)
		recordToolCall("invalid", false)
		return fmt.Sprintf("The API call %s is not a valid call expression. Write each call as name(arg1, arg2).", text)
	}

	args, err := m.registry.Bind(call.Name, call.Args, call.Keywords)
	if err != nil {
		if errors.Is(err, search.ErrUnknownPrimitive) {
			m.logger.Warn("unknown search primitive", slog.String("primitive", call.Name))
			m.AddToolCallToCurrLayer(call.Name, nil, false)
			recordToolCall("unknown", false)
			return fmt.Sprintf("There is no search API named %s. The available APIs are:\n%s", call.Name, m.registry.Describe())
		}
		m.logger.Warn("search primitive arguments do not bind",
			slog.String("primitive", call.Name),
			slog.String("error", err.Error()),
		)
		m.AddToolCallToCurrLayer(call.Name, positionalArgs(call), false)
		recordToolCall(call.Name, false)
		return fmt.Sprintf("The API call %s has invalid arguments: %v", text, err)
	}

	res, err := m.registry.Invoke(ctx, call.Name, args)
	if err != nil {
		m.AddToolCallToCurrLayer(call.Name, args, false)
		recordToolCall(call.Name, false)
		return err.Error()
	}
	m.AddToolCallToCurrLayer(call.Name, args, res.Found)
	recordToolCall(call.Name, res.Found)
	return res.Message
}

// positionalArgs records arguments that could not be bound to parameter
// names under their position.
func positionalArgs(call parse.Call) map[string]string {
	args := make(map[string]string, len(call.Args)+len(call.Keywords))
	for i, v := range call.Args {
		args[fmt.Sprintf("arg%d", i+1)] = v
	}
	for k, v := range call.Keywords {
		args[k] = v
	}
	return args
}

// saveTranscript writes the thread as conversation_round_<round>.json.
func (m *Manager) saveTranscript(round int, thread *conversation.MessageThread) {
	if thread == nil {
		return
	}
	if err := thread.SaveToFile(filepath.Join(m.cfg.OutputDir, storage.RoundTranscriptFile(round))); err != nil {
		m.logger.Warn("failed to save round transcript",
			slog.Int("round", round),
			slog.String("error", err.Error()),
		)
	}
}

// finish persists the audit trail and archives the session.
func (m *Manager) finish(ctx context.Context, task Task, out Outcome, started time.Time) {
	recordSession(out.Status, out.Rounds)

	if _, err := m.DumpToolCallLayersToFile(); err != nil {
		m.logger.Error("failed to write tool call layers", slog.String("error", err.Error()))
	}
	if _, err := storage.WriteJSON(m.cfg.OutputDir, storage.BugLocationsFile, out.BugLocations); err != nil {
		m.logger.Error("failed to write bug locations", slog.String("error", err.Error()))
	}

	m.logger.Info("search session finished",
		slog.String("session_id", out.SessionID),
		slog.String("status", out.Status),
		slog.Int("rounds", out.Rounds),
		slog.Int("bug_locations", len(out.BugLocations)),
		slog.Duration("elapsed", time.Since(started)),
	)

	if m.archive == nil {
		return
	}
	rec := storage.SessionRecord{
		SessionMeta: storage.SessionMeta{
			ID:          out.SessionID,
			ProjectRoot: m.cfg.ProjectRoot,
			StartedAt:   started,
			FinishedAt:  time.Now(),
			Rounds:      out.Rounds,
			Outcome:     out.Status,
			Locations:   len(out.BugLocations),
		},
		Issue:          task.Issue,
		ToolCallLayers: rawJSON(m.ToolCallLayers()),
		BugLocations:   rawJSON(out.BugLocations),
	}
	if out.Thread != nil {
		rec.Transcript = rawJSON(out.Thread.Messages)
	}
	// The session's own ctx may already be cancelled.
	if _, err := m.archive.Save(context.WithoutCancel(ctx), rec); err != nil {
		m.logger.Error("failed to archive session",
			slog.String("session_id", out.SessionID),
			slog.String("error", err.Error()),
		)
	}
}

// rawJSON encodes v, yielding null on failure.
func rawJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}

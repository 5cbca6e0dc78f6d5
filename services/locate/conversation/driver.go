// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/faultline/services/llm"
)

var tracer = otel.Tracer("faultline.conversation")

// Turn is one model reply handed from the driver to its caller.
//
// Thread is a snapshot of the conversation including the reply. Err is set
// when the model call failed; the driver is exhausted after such a turn.
type Turn struct {
	Text   string
	Thread *MessageThread
	Err    error
}

// Feedback resumes the driver after a Turn.
//
// With ReSearch set, Result is appended as a user message and the model is
// asked again. Otherwise the exchange ends.
type Feedback struct {
	Result   string
	ReSearch bool
}

// Session holds the inputs primed into a new conversation.
type Session struct {
	// Issue is the raw issue statement; it is cleaned with PrepareIssuePrompt.
	Issue string

	// SBFL is the fault-localization report. Primed only when EnableSBFL is
	// set and the report is non-empty.
	SBFL       string
	EnableSBFL bool

	// Reproducer is the reproduction test output. Primed only when
	// EnableReproducer is set and the output is non-empty.
	Reproducer       string
	EnableReproducer bool
}

// Driver runs the model exchange on its own goroutine.
//
// Description:
//
//	The goroutine primes the thread, asks the model, and hands the reply to
//	the caller as a Turn. It then blocks until the caller sends Feedback.
//	Each Next must be followed by a Send before the next Next, which keeps
//	the exchange strictly turn by turn.
//
// Thread Safety: A Driver has one caller. Close may be called from any
// goroutine.
type Driver struct {
	client   llm.ChatClient
	prompts  *Prompts
	chatOpts llm.ChatOptions
	logger   *slog.Logger

	thread   *MessageThread
	turns    chan Turn
	feedback chan Feedback
	start    chan struct{}
	done     chan struct{}
	cancel   context.CancelFunc

	startOnce sync.Once
	closeOnce sync.Once
}

// Option configures a Driver.
type Option func(*Driver)

// WithPrompts replaces the embedded prompt catalog.
func WithPrompts(p *Prompts) Option {
	return func(d *Driver) {
		if p != nil {
			d.prompts = p
		}
	}
}

// WithChatOptions sets the options passed on every model call.
func WithChatOptions(opts llm.ChatOptions) Option {
	return func(d *Driver) { d.chatOpts = opts }
}

// WithLogger sets the driver's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// Start primes a conversation for s and launches the exchange goroutine.
//
// Description:
//
//	The thread starts with the system prompt, the prepared issue, the
//	optional fault-localization and reproduction hints, and finally the
//	analyze-and-select instruction. No model call happens until the first
//	Next.
//
// Inputs:
//   - ctx: Bounds the goroutine's lifetime. Cancelling it ends the exchange.
//   - client: The reasoning model.
//   - s: Session inputs.
//
// Outputs:
//   - *Driver: The running driver. Call Close when done.
//   - error: ErrNilClient, or a prompt catalog error.
func Start(ctx context.Context, client llm.ChatClient, s Session, opts ...Option) (*Driver, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	d := &Driver{
		client:   client,
		logger:   slog.Default(),
		turns:    make(chan Turn),
		feedback: make(chan Feedback),
		start:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.prompts == nil {
		p, err := DefaultPrompts()
		if err != nil {
			return nil, err
		}
		d.prompts = p
	}

	d.thread = d.prime(s)

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	go d.run(runCtx)
	return d, nil
}

func (d *Driver) prime(s Session) *MessageThread {
	t := NewMessageThread()
	t.AddSystem(d.prompts.System)
	t.AddUser(PrepareIssuePrompt(s.Issue))
	if s.EnableSBFL && s.SBFL != "" {
		t.AddUser(d.prompts.SBFL + "\n\n" + s.SBFL)
	}
	if s.EnableReproducer && s.Reproducer != "" {
		t.AddUser(d.prompts.Reproducer + "\n\n" + s.Reproducer)
	}
	t.AddUser(d.prompts.AnalyzeAndSelect)
	return t
}

// run is the driver goroutine.
func (d *Driver) run(ctx context.Context) {
	defer close(d.done)
	defer close(d.turns)

	select {
	case <-d.start:
	case <-ctx.Done():
		return
	}

	for round := 0; ; round++ {
		text, err := d.exchange(ctx, round)
		turn := Turn{Text: text, Thread: d.thread.Clone(), Err: err}

		select {
		case d.turns <- turn:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}

		var fb Feedback
		select {
		case fb = <-d.feedback:
		case <-ctx.Done():
			return
		}
		if !fb.ReSearch {
			d.logger.Debug("conversation ended by caller", slog.Int("rounds", round+1))
			return
		}
		d.thread.AddUser(fb.Result)
	}
}

func (d *Driver) exchange(ctx context.Context, round int) (string, error) {
	ctx, span := tracer.Start(ctx, "conversation.exchange")
	defer span.End()
	span.SetAttributes(
		attribute.Int("round", round),
		attribute.Int("messages", d.thread.Len()),
	)

	start := time.Now()
	text, err := d.client.Chat(ctx, d.thread.Messages, d.chatOpts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call failed")
		d.logger.Warn("model call failed",
			slog.Int("round", round),
			slog.String("error", llm.SafeLogString(err.Error())),
		)
		return "", fmt.Errorf("%w: %w", ErrModelCall, err)
	}

	d.thread.AddModel(text)
	span.SetAttributes(attribute.Int("response_chars", len(text)))
	d.logger.Debug("model replied",
		slog.Int("round", round),
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("response_chars", len(text)),
	)
	return text, nil
}

// Next blocks for the next model reply. The first call starts the
// exchange.
//
// Outputs:
//   - Turn: The reply. A failed model call is reported in Turn.Err.
//   - error: ErrDriverClosed once the exchange has ended, or ctx's error.
func (d *Driver) Next(ctx context.Context) (Turn, error) {
	d.startOnce.Do(func() { close(d.start) })
	select {
	case t, ok := <-d.turns:
		if !ok {
			return Turn{}, ErrDriverClosed
		}
		return t, nil
	case <-ctx.Done():
		return Turn{}, ctx.Err()
	}
}

// Send resumes the driver after a Turn.
//
// Outputs:
//   - error: ErrDriverClosed when the exchange already ended, or ctx's error.
func (d *Driver) Send(ctx context.Context, fb Feedback) error {
	select {
	case d.feedback <- fb:
		return nil
	case <-d.done:
		return ErrDriverClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the exchange and waits for the goroutine to exit. Safe to call
// more than once.
func (d *Driver) Close() {
	d.closeOnce.Do(func() {
		d.cancel()
		<-d.done
	})
}

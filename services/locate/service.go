// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package locate wires the bug-localization pipeline together: project
// index, search backend, primitive registry, output normalizer, and the
// iterative search manager. The CLI and the HTTP server share it.
package locate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/faultline/services/llm"
	"github.com/AleutianAI/faultline/services/locate/config"
	"github.com/AleutianAI/faultline/services/locate/conversation"
	"github.com/AleutianAI/faultline/services/locate/index"
	"github.com/AleutianAI/faultline/services/locate/manager"
	"github.com/AleutianAI/faultline/services/locate/parse"
	"github.com/AleutianAI/faultline/services/locate/proxy"
	"github.com/AleutianAI/faultline/services/locate/search"
	"github.com/AleutianAI/faultline/services/locate/storage"
)

var (
	// ErrNilClient indicates a service created without a chat client.
	ErrNilClient = errors.New("locate: chat client is nil")

	// ErrInvalidRequest indicates a request missing required fields.
	ErrInvalidRequest = errors.New("locate: invalid request")

	// ErrArchiveDisabled indicates a session lookup on a service without an
	// archive.
	ErrArchiveDisabled = errors.New("locate: session archive is disabled")
)

// LocateRequest asks for the bug locations of one issue.
type LocateRequest struct {
	ProjectRoot string `json:"project_root" binding:"required"`
	Issue       string `json:"issue" binding:"required"`
	SBFL        string `json:"sbfl,omitempty"`
	Reproducer  string `json:"reproducer,omitempty"`

	// OutputDir, when set, receives the audit trail directly. It is not
	// accepted from request bodies.
	OutputDir string `json:"-"`
}

// LocateResult is the outcome of a search session.
type LocateResult struct {
	SessionID    string               `json:"session_id"`
	Status       string               `json:"status"`
	Rounds       int                  `json:"rounds"`
	OutputDir    string               `json:"output_dir"`
	BugLocations []search.BugLocation `json:"bug_locations"`
}

// ReviewRequest asks the model to judge a candidate patch.
type ReviewRequest struct {
	Issue      string `json:"issue" binding:"required"`
	Patch      string `json:"patch" binding:"required"`
	Test       string `json:"test,omitempty"`
	TestOutput string `json:"test_output,omitempty"`
}

// Service owns the configuration, the model client and the per-project
// index cache.
//
// Thread Safety: Safe for concurrent use. Each Locate call runs its own
// manager; indexes are built once per project root and shared read-only.
type Service struct {
	cfg     config.Config
	client  llm.ChatClient
	archive *storage.Archive
	prompts *conversation.Prompts
	logger  *slog.Logger

	mu       sync.RWMutex
	indexes  map[string]*index.Index
	watchers map[string]*index.Watcher
	builds   singleflight.Group
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithArchive records finished sessions in a.
func WithArchive(a *storage.Archive) ServiceOption {
	return func(s *Service) { s.archive = a }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a Service.
//
// Description:
//
//	The prompt catalog comes from cfg.PromptsFile when set, otherwise the
//	embedded default is used.
//
// Inputs:
//   - cfg: A validated configuration.
//   - client: The reasoning model.
//
// Outputs:
//   - *Service: The service.
//   - error: ErrNilClient, or a prompt catalog error.
func NewService(cfg config.Config, client llm.ChatClient, opts ...ServiceOption) (*Service, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	s := &Service{
		cfg:      cfg,
		client:   client,
		logger:   slog.Default(),
		indexes:  make(map[string]*index.Index),
		watchers: make(map[string]*index.Watcher),
	}
	for _, opt := range opts {
		opt(s)
	}

	prompts, err := loadPrompts(cfg.PromptsFile)
	if err != nil {
		return nil, err
	}
	s.prompts = prompts
	return s, nil
}

func loadPrompts(path string) (*conversation.Prompts, error) {
	if path == "" {
		return conversation.DefaultPrompts()
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading prompts file: %w", err)
	}
	if info.Size() > config.MaxConfigFileSize {
		return nil, fmt.Errorf("prompts file %s exceeds %d bytes", path, config.MaxConfigFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading prompts file: %w", err)
	}
	return conversation.LoadPrompts(data)
}

// Config returns the service configuration.
func (s *Service) Config() config.Config { return s.cfg }

// Index returns the index for root, building it on first use.
//
// Description:
//
//	Concurrent callers for the same root share one build. A failed build
//	is not cached.
//
// Outputs:
//   - *index.Index: The shared index. Callers must not modify it.
//   - error: The build error or ctx's error.
func (s *Service) Index(ctx context.Context, root string) (*index.Index, error) {
	key, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}

	s.mu.RLock()
	idx, ok := s.indexes[key]
	s.mu.RUnlock()
	if ok {
		return idx, nil
	}

	v, err, _ := s.builds.Do(key, func() (any, error) {
		built, err := index.Build(ctx, key,
			index.WithParallelism(s.cfg.Parallelism),
			index.WithLogger(s.logger),
		)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.indexes[key] = built
		s.mu.Unlock()
		if s.cfg.Watch {
			s.watch(key)
		}
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*index.Index), nil
}

// Invalidate drops the cached index for root so the next use rebuilds it.
func (s *Service) Invalidate(root string) {
	key, err := filepath.Abs(root)
	if err != nil {
		return
	}
	s.mu.Lock()
	delete(s.indexes, key)
	s.mu.Unlock()
}

// watch starts one source watcher per project root. Failures are logged and
// leave the cached index in place until invalidated.
func (s *Service) watch(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watchers[key]; ok {
		return
	}
	w, err := index.Watch(key, func(paths []string) {
		s.logger.Info("sources changed, dropping cached index",
			slog.String("project_root", key),
			slog.Int("changed_files", len(paths)),
		)
		s.Invalidate(key)
	}, index.WithWatchLogger(s.logger))
	if err != nil {
		s.logger.Warn("cannot watch project sources",
			slog.String("project_root", key),
			slog.String("error", err.Error()),
		)
		return
	}
	s.watchers[key] = w
}

// Close stops the source watchers. The archive belongs to the caller.
func (s *Service) Close() {
	s.mu.Lock()
	watchers := s.watchers
	s.watchers = make(map[string]*index.Watcher)
	s.mu.Unlock()
	for _, w := range watchers {
		w.Stop()
	}
}

// Locate runs one search session.
//
// Description:
//
//	Builds (or reuses) the project index, binds the search primitives to
//	it, and hands the issue to a fresh manager. The audit trail lands in
//	req.OutputDir, or in a subdirectory of the configured output directory
//	named after the session id.
//
// Outputs:
//   - LocateResult: The session outcome. Partial when err is non-nil and the
//     session got as far as the manager.
//   - error: ErrInvalidRequest, an index error, or the manager's error.
func (s *Service) Locate(ctx context.Context, req LocateRequest) (LocateResult, error) {
	if req.ProjectRoot == "" || req.Issue == "" {
		return LocateResult{}, fmt.Errorf("%w: project_root and issue are required", ErrInvalidRequest)
	}
	sessionID := uuid.NewString()
	outDir := req.OutputDir
	if outDir == "" {
		outDir = filepath.Join(s.cfg.OutputDir, sessionID)
	}

	idx, err := s.Index(ctx, req.ProjectRoot)
	if err != nil {
		return LocateResult{}, err
	}

	backend := search.NewBackend(idx,
		search.WithShowLimit(s.cfg.ResultShowLimit),
		search.WithBackendLogger(s.logger),
	)
	registry := search.NewBackendRegistry(backend)
	prompts := s.prompts.WithTools(registry.Describe())

	var opts []manager.Option
	if s.cfg.Proxy.Enabled {
		n, err := proxy.New(s.client,
			proxy.WithRetries(s.cfg.Proxy.Retries),
			proxy.WithPrompts(prompts),
			proxy.WithChatOptions(s.cfg.ChatOptions()),
			proxy.WithLogger(s.logger),
		)
		if err != nil {
			return LocateResult{}, err
		}
		opts = append(opts, manager.WithNormalizer(n))
	}
	if s.archive != nil {
		opts = append(opts, manager.WithArchive(s.archive))
	}

	m, err := manager.New(manager.Config{
		ProjectRoot:        idx.Root(),
		OutputDir:          outDir,
		ConvRoundLimit:     s.cfg.ConvRoundLimit,
		EnableSBFL:         s.cfg.EnableSBFL,
		ReproduceAndReview: s.cfg.ReproduceAndReview,
		ChatOptions:        s.cfg.ChatOptions(),
		Prompts:            s.prompts,
		Logger:             s.logger,
	}, s.client, registry, backend, opts...)
	if err != nil {
		return LocateResult{}, err
	}

	out, err := m.SearchIterative(ctx, manager.Task{
		SessionID:  sessionID,
		Issue:      req.Issue,
		SBFL:       req.SBFL,
		Reproducer: req.Reproducer,
	})
	return LocateResult{
		SessionID:    out.SessionID,
		Status:       out.Status,
		Rounds:       out.Rounds,
		OutputDir:    outDir,
		BugLocations: out.BugLocations,
	}, err
}

// ReviewResult is the reviewer verdict with the files the patch touches.
type ReviewResult struct {
	*parse.Review
	Files []PatchFile `json:"files"`
}

// Review asks the model to judge a patch and its reproduction test.
//
// Outputs:
//   - *ReviewResult: The verdict and patch summary.
//   - error: ErrInvalidRequest for a missing issue or a patch that is not a
//     unified diff, or the reviewer's error.
func (s *Service) Review(ctx context.Context, req ReviewRequest) (*ReviewResult, error) {
	if req.Issue == "" || req.Patch == "" {
		return nil, fmt.Errorf("%w: issue and patch are required", ErrInvalidRequest)
	}
	files, err := SummarizePatch(req.Patch)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("reviewing patch", slog.Int("files", len(files)))

	review, _, err := conversation.AskReview(ctx, s.client, s.prompts, conversation.ReviewInput{
		Issue:      req.Issue,
		Patch:      req.Patch,
		Test:       req.Test,
		TestOutput: req.TestOutput,
	}, s.cfg.ChatOptions())
	if err != nil {
		return nil, err
	}
	return &ReviewResult{Review: review, Files: files}, nil
}

// Sessions lists archived sessions for projectRoot, newest first. An empty
// projectRoot lists every project.
func (s *Service) Sessions(ctx context.Context, projectRoot string, limit int) ([]storage.SessionMeta, error) {
	if s.archive == nil {
		return nil, ErrArchiveDisabled
	}
	if projectRoot != "" {
		abs, err := filepath.Abs(projectRoot)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", projectRoot, err)
		}
		projectRoot = abs
	}
	return s.archive.List(ctx, projectRoot, limit)
}

// Session loads one archived session.
func (s *Service) Session(ctx context.Context, id string) (storage.SessionRecord, error) {
	if s.archive == nil {
		return storage.SessionRecord{}, ErrArchiveDisabled
	}
	return s.archive.Load(ctx, id)
}

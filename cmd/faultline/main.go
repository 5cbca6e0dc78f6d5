// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command faultline locates the code regions responsible for a reported
// issue in a Python project by letting a language model drive structural
// code search.
//
// Usage:
//
//	faultline locate --project ./repo --issue issue.md
//	faultline index --project ./repo
//	faultline review --issue issue.md --patch fix.diff
//	faultline serve
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/faultline/services/llm"
	"github.com/AleutianAI/faultline/services/locate"
	"github.com/AleutianAI/faultline/services/locate/config"
	"github.com/AleutianAI/faultline/services/locate/storage"
)

// Persistent flag values.
var (
	configPath string
	logLevel   string
	logFormat  string
	traceSpans bool
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var shutdownTracing func(context.Context) error

	root := &cobra.Command{
		Use:           "faultline",
		Short:         "Locate buggy code for an issue with model-driven code search",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), logLevel, logFormat)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
				propagation.TraceContext{},
				propagation.Baggage{},
			))
			if traceSpans {
				shutdownTracing, err = setupTracing(cmd.ErrOrStderr())
				if err != nil {
					return err
				}
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if shutdownTracing == nil {
				return nil
			}
			return shutdownTracing(context.WithoutCancel(cmd.Context()))
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to faultline.yaml (defaults apply when unset)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	root.PersistentFlags().BoolVar(&traceSpans, "trace", false, "Print OpenTelemetry spans to stderr")

	root.AddCommand(
		newLocateCommand(),
		newIndexCommand(),
		newReviewCommand(),
		newServeCommand(),
	)
	return root
}

// newLogger builds the process logger.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q: want text or json", format)
	}
}

// setupTracing installs a tracer provider that prints spans to w.
func setupTracing(w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating span exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// loadService loads the configuration and builds the locate service.
//
// Outputs:
//   - *locate.Service: The service.
//   - func(): Stops source watchers and closes the archive. Never nil.
//   - error: Configuration, client or archive failure.
func loadService(configure func(*config.Config)) (*locate.Service, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if configure != nil {
		configure(&cfg)
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}

	client, err := llm.NewClient(cfg.ClientConfig())
	if err != nil {
		return nil, nil, err
	}

	logger := slog.Default()
	opts := []locate.ServiceOption{locate.WithLogger(logger)}
	cleanup := func() {}
	if cfg.Archive.Enabled {
		archive, err := storage.OpenArchive(storage.ArchiveConfig{Path: cfg.Archive.Path, Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, locate.WithArchive(archive))
		cleanup = func() {
			if err := archive.Close(); err != nil {
				logger.Warn("failed to close archive", slog.String("error", err.Error()))
			}
		}
	}

	svc, err := locate.NewService(cfg, client, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, func() {
		svc.Close()
		cleanup()
	}, nil
}

// readInput returns the contents of path, or stdin when path is "-".
// An empty path yields an empty string.
func readInput(in io.Reader, path string) (string, error) {
	switch path {
	case "":
		return "", nil
	case "-":
		data, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		return string(data), nil
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitedClient blocks each Chat call until the token bucket admits it.
//
// Description:
//
//	Wraps a ChatClient with a golang.org/x/time/rate limiter configured in
//	requests per minute. A burst of one keeps the round loop from firing a
//	volley of retries at the provider after a transient failure.
//
// Thread Safety: Safe for concurrent use.
type RateLimitedClient struct {
	inner   ChatClient
	limiter *rate.Limiter
}

// NewRateLimitedClient wraps inner with a requests-per-minute limit.
//
// Inputs:
//   - inner: The client to wrap. Must not be nil.
//   - requestsPerMinute: Allowed calls per minute. Zero or negative means
//     unlimited.
//
// Outputs:
//   - *RateLimitedClient: The wrapping client.
func NewRateLimitedClient(inner ChatClient, requestsPerMinute int) *RateLimitedClient {
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(requestsPerMinute))
	}
	return &RateLimitedClient{
		inner:   inner,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Chat implements ChatClient.
func (r *RateLimitedClient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	if r.inner == nil {
		return "", ErrNilClient
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm: rate limit wait: %w", err)
	}
	return r.inner.Chat(ctx, messages, opts)
}

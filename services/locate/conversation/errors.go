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

import "errors"

var (
	// ErrDriverClosed indicates a Next or Send on a driver whose exchange
	// has ended.
	ErrDriverClosed = errors.New("conversation driver closed")

	// ErrModelCall indicates the reasoning model failed to answer.
	ErrModelCall = errors.New("model call failed")

	// ErrNilClient indicates Start was called without a chat client.
	ErrNilClient = errors.New("chat client is nil")

	// ErrInvalidPrompts indicates a prompt catalog with a missing entry.
	ErrInvalidPrompts = errors.New("invalid prompt catalog")
)

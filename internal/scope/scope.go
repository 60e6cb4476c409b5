/*
Copyright 2024 The Dapr Authors
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package scope implements the cancellable scope the Workload API client
// opens every stream in: a parent context whose cancellation propagates to
// every derived stream context, with Close() cancelling all of them and
// waiting for their goroutines to return.
//
// Generalized from dapr/kit's context.Pool, which cancels its callee context
// once every tracked caller context is done; here the direction is reversed
// — one owning scope cancels every context it has handed out, rather than
// waiting on contexts handed in.
package scope

import (
	"context"
	"sync"

	werrors "github.com/spiffe/go-workloadapi/errors"
)

// Scope owns a base context and tracks every stream context derived from it.
// Close cancels the base context (and so every derived stream context) and
// blocks until every derived stream has called its Done function.
type Scope struct {
	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// New creates a Scope deriving from parent.
func New(parent context.Context) *Scope {
	base, cancel := context.WithCancel(parent)
	return &Scope{base: base, cancel: cancel}
}

// NewStream derives a cancellable context for one stream. The returned done
// function must be called exactly once, when the stream's goroutine
// returns, whether or not the context was cancelled; it also cancels the
// stream's own context so that callers don't need a separate cancel call.
// Returns ClientClosed if the scope has already been closed.
func (s *Scope) NewStream() (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, werrors.New(werrors.ClientClosed, "cannot open a new stream on a closed client")
	}

	streamCtx, streamCancel := context.WithCancel(s.base)
	s.wg.Add(1)
	done := func() {
		streamCancel()
		s.wg.Done()
	}
	return streamCtx, done, nil
}

// Close cancels the base context, preventing any new stream from being
// opened, then blocks until every outstanding stream has called its done
// function. Idempotent.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// Done returns a channel closed when the scope's base context is cancelled.
func (s *Scope) Done() <-chan struct{} {
	return s.base.Done()
}

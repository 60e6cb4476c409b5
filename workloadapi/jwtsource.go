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

package workloadapi

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/spiffe/go-workloadapi/bundle/jwtbundle"
	werrors "github.com/spiffe/go-workloadapi/errors"
	"github.com/spiffe/go-workloadapi/internal/broadcast"
	"github.com/spiffe/go-workloadapi/internal/log"
	"github.com/spiffe/go-workloadapi/spiffeid"
	"github.com/spiffe/go-workloadapi/svid/jwtsvid"
)

type jwtSnapshot struct {
	bundles    *jwtbundle.Set
	generation uint64
}

// JwtSource maintains a rotating JWT bundle set fed by a watched Workload
// API stream, and delegates JWT-SVID minting to the underlying client.
type JwtSource struct {
	client     *Client
	ownsClient bool
	log        log.Logger

	broadcaster *broadcast.Broadcaster[Update]
	snapshot    atomic.Pointer[jwtSnapshot]
	closed      atomic.Bool

	cancelWatch context.CancelFunc
	watchDone   chan struct{}
}

// NewJwtSource dials (or adopts) a Client, subscribes to JWT bundle
// updates, and blocks until the first update has been applied or
// WithInitTimeout elapses.
func NewJwtSource(ctx context.Context, opts ...SourceOption) (*JwtSource, error) {
	cfg := sourceConfig{}
	for _, opt := range opts {
		opt.configureSource(&cfg)
	}

	src := &JwtSource{
		log:         log.Nop(),
		broadcaster: broadcast.New[Update](),
		watchDone:   make(chan struct{}),
	}

	if cfg.client != nil {
		src.client = cfg.client
	} else {
		client, err := New(ctx, cfg.clientOptions...)
		if err != nil {
			return nil, err
		}
		src.client = client
		src.ownsClient = true
	}
	src.log = src.client.config.log

	watchCtx, cancel := context.WithCancel(context.Background())
	src.cancelWatch = cancel

	ready := make(chan error, 1)
	go src.run(watchCtx, ready)

	if cfg.initTimeout <= 0 {
		if err := <-ready; err != nil {
			src.closeInternal()
			return nil, err
		}
		return src, nil
	}

	select {
	case err := <-ready:
		if err != nil {
			src.closeInternal()
			return nil, err
		}
		return src, nil
	case <-time.After(cfg.initTimeout):
		src.closeInternal()
		return nil, werrors.New(werrors.SourceInitialization, "timed out waiting for the first JWT bundle update")
	case <-ctx.Done():
		src.closeInternal()
		return nil, werrors.Wrap(werrors.SourceInitialization, "context done before first JWT bundle update", ctx.Err())
	}
}

func (s *JwtSource) run(ctx context.Context, ready chan<- error) {
	defer close(s.watchDone)

	var once atomic.Bool
	watcher := &jwtSourceWatcher{source: s, ready: ready, signaled: &once}
	err := s.client.WatchJWTBundles(ctx, watcher)
	if err != nil && once.CompareAndSwap(false, true) {
		ready <- err
	}
}

type jwtSourceWatcher struct {
	source   *JwtSource
	ready    chan<- error
	signaled *atomic.Bool
}

func (w *jwtSourceWatcher) OnJWTBundlesUpdate(bundles *jwtbundle.Set) {
	w.source.publish(bundles)
	if w.signaled.CompareAndSwap(false, true) {
		w.ready <- nil
	}
}

func (w *jwtSourceWatcher) OnJWTBundlesWatchError(err error) {
	if err == nil {
		return
	}
	w.source.log.Errorf("JWT bundles watch error: %v", err)

	// Mirrors x509SourceWatcher.OnX509ContextWatchError: WatchJWTBundles
	// reports every transport failure here before classify decides
	// whether to retry, so only a terminal error should fail the init
	// barrier.
	terminal, wrapped := classify(err)
	if !terminal {
		return
	}
	if w.signaled.CompareAndSwap(false, true) {
		w.ready <- werrors.Wrap(werrors.SourceInitialization, "JWT bundles watch failed before first update", wrapped)
	}
}

func (s *JwtSource) publish(bundles *jwtbundle.Set) {
	prev := s.snapshot.Load()
	var gen uint64
	if prev != nil {
		gen = prev.generation
	}
	next := &jwtSnapshot{bundles: bundles, generation: gen + 1}
	s.snapshot.Store(next)
	s.broadcaster.Broadcast(Update{Generation: next.generation})
}

// GetBundleForTrustDomain returns the JWT bundle for td from the current
// snapshot.
func (s *JwtSource) GetBundleForTrustDomain(td spiffeid.TrustDomain) (*jwtbundle.Bundle, error) {
	snap, err := s.current()
	if err != nil {
		return nil, err
	}
	bundle, ok := snap.bundles.GetJWTBundleForTrustDomain(td)
	if !ok {
		return nil, werrors.Errorf(werrors.BundleNotFound, "no JWT bundle for trust domain %q", td)
	}
	return bundle, nil
}

// GetJWTBundleForTrustDomain satisfies jwtsvid.BundleSource, so a JwtSource
// can be used directly to validate a JWT-SVID.
func (s *JwtSource) GetJWTBundleForTrustDomain(td spiffeid.TrustDomain) (*jwtbundle.Bundle, bool) {
	bundle, err := s.GetBundleForTrustDomain(td)
	return bundle, err == nil
}

func (s *JwtSource) current() (*jwtSnapshot, error) {
	if s.closed.Load() {
		return nil, werrors.New(werrors.SourceClosed, "JwtSource is closed")
	}
	snap := s.snapshot.Load()
	if snap == nil {
		return nil, werrors.New(werrors.SourceClosed, "JwtSource has no snapshot yet")
	}
	return snap, nil
}

// FetchJWTSVID delegates to the underlying client to mint a JWT-SVID for
// the given subject and audiences.
func (s *JwtSource) FetchJWTSVID(ctx context.Context, params JWTSVIDParams) (*jwtsvid.SVID, error) {
	if s.closed.Load() {
		return nil, werrors.New(werrors.SourceClosed, "JwtSource is closed")
	}
	return s.client.FetchJWTSVID(ctx, params)
}

// Subscribe registers ch to receive an Update on every rotation until ctx
// is done.
func (s *JwtSource) Subscribe(ctx context.Context, ch chan<- Update) {
	s.broadcaster.Subscribe(ctx, ch)
}

// Close stops the underlying watch and marks the source closed.
func (s *JwtSource) Close() error {
	s.closeInternal()
	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}

func (s *JwtSource) closeInternal() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cancelWatch()
	<-s.watchDone
	s.broadcaster.Close()
}

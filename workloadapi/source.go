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

	"github.com/spiffe/go-workloadapi/bundle/x509bundle"
	werrors "github.com/spiffe/go-workloadapi/errors"
	"github.com/spiffe/go-workloadapi/internal/broadcast"
	"github.com/spiffe/go-workloadapi/internal/log"
	"github.com/spiffe/go-workloadapi/spiffeid"
	"github.com/spiffe/go-workloadapi/svid/x509svid"
)

// x509Snapshot is the immutable triple published atomically by an
// X509Source on every update.
type x509Snapshot struct {
	svid       *x509svid.SVID
	bundles    *x509bundle.Set
	generation uint64
}

// Update is delivered to a subscriber of X509Source.Subscribe or
// JwtSource.Subscribe on every rotation.
type Update struct {
	Generation uint64
}

// X509Source maintains a rotating, atomically-swapped X.509 SVID and
// bundle set fed by a watched Workload API stream. GetX509SVID and
// GetBundleForTrustDomain always observe a single consistent generation.
type X509Source struct {
	client      *Client
	ownsClient  bool
	log         log.Logger
	svidPicker  X509SVIDPicker
	broadcaster *broadcast.Broadcaster[Update]

	snapshot atomic.Pointer[x509Snapshot]
	closed   atomic.Bool

	cancelWatch context.CancelFunc
	watchDone   chan struct{}
}

// NewX509Source dials (or adopts) a Client, subscribes to X.509 context
// updates, and blocks until the first update has been applied or
// WithInitTimeout elapses (zero, the default, waits forever).
func NewX509Source(ctx context.Context, opts ...SourceOption) (*X509Source, error) {
	cfg := sourceConfig{svidPicker: defaultX509SVIDPicker}
	for _, opt := range opts {
		opt.configureSource(&cfg)
	}

	src := &X509Source{
		log:         log.Nop(),
		svidPicker:  cfg.svidPicker,
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
		return nil, werrors.New(werrors.SourceInitialization, "timed out waiting for the first X.509 context update")
	case <-ctx.Done():
		src.closeInternal()
		return nil, werrors.Wrap(werrors.SourceInitialization, "context done before first X.509 context update", ctx.Err())
	}
}

func (s *X509Source) run(ctx context.Context, ready chan<- error) {
	defer close(s.watchDone)

	var once atomic.Bool
	watcher := &x509SourceWatcher{source: s, ready: ready, signaled: &once}
	err := s.client.WatchX509Context(ctx, watcher)
	if err != nil && once.CompareAndSwap(false, true) {
		ready <- err
	}
}

type x509SourceWatcher struct {
	source   *X509Source
	ready    chan<- error
	signaled *atomic.Bool
}

func (w *x509SourceWatcher) OnX509ContextUpdate(x509Context *X509Context) {
	svid := w.source.svidPicker(x509Context.SVIDs)
	if svid == nil {
		err := werrors.New(werrors.SourceInitialization, "X.509 SVID picker returned no SVID")
		w.source.log.Errorf("%v", err)
		if w.signaled.CompareAndSwap(false, true) {
			w.ready <- err
		}
		return
	}

	next := &x509Snapshot{svid: svid, bundles: x509Context.Bundles}
	w.source.publish(next)

	if w.signaled.CompareAndSwap(false, true) {
		w.ready <- nil
	}
}

func (w *x509SourceWatcher) OnX509ContextWatchError(err error) {
	if err == nil {
		return
	}
	w.source.log.Errorf("X.509 context watch error: %v", err)

	// WatchX509Context reports every transport failure here, retryable or
	// not, before classify decides whether to retry - only a terminal
	// error means no further update is coming, so only that should fail
	// the init barrier. A retryable error (e.g. the agent isn't listening
	// yet on startup) must let the backoff schedule keep trying, per
	// WithInitTimeout's zero-waits-forever default.
	terminal, wrapped := classify(err)
	if !terminal {
		return
	}
	if w.signaled.CompareAndSwap(false, true) {
		w.ready <- werrors.Wrap(werrors.SourceInitialization, "X.509 context watch failed before first update", wrapped)
	}
}

// publish atomically swaps in next, stamping it with the next generation,
// and notifies subscribers. Readers of the previous snapshot are
// unaffected: the old *x509Snapshot remains valid until unreferenced.
func (s *X509Source) publish(next *x509Snapshot) {
	prev := s.snapshot.Load()
	var gen uint64
	if prev != nil {
		gen = prev.generation
	}
	next.generation = gen + 1
	s.snapshot.Store(next)
	s.broadcaster.Broadcast(Update{Generation: next.generation})
}

// GetX509SVID returns the currently selected SVID.
func (s *X509Source) GetX509SVID() (*x509svid.SVID, error) {
	snap, err := s.current()
	if err != nil {
		return nil, err
	}
	return snap.svid, nil
}

// GetBundleForTrustDomain returns the X.509 bundle for td from the current
// snapshot.
func (s *X509Source) GetBundleForTrustDomain(td spiffeid.TrustDomain) (*x509bundle.Bundle, error) {
	snap, err := s.current()
	if err != nil {
		return nil, err
	}
	bundle, ok := snap.bundles.GetX509BundleForTrustDomain(td)
	if !ok {
		return nil, werrors.Errorf(werrors.BundleNotFound, "no X.509 bundle for trust domain %q", td)
	}
	return bundle, nil
}

// GetX509BundleSet returns every trust domain bundle in the current
// snapshot, including federated bundles, so a caller that must persist the
// whole trust store (rather than resolve a single trust domain) doesn't
// have to enumerate trust domains itself.
func (s *X509Source) GetX509BundleSet() (*x509bundle.Set, error) {
	snap, err := s.current()
	if err != nil {
		return nil, err
	}
	return snap.bundles, nil
}

// GetX509BundleForTrustDomain satisfies x509svid.BundleSource, so an
// X509Source can be used directly as a chain-verification bundle source.
func (s *X509Source) GetX509BundleForTrustDomain(td spiffeid.TrustDomain) (*x509bundle.Bundle, bool) {
	bundle, err := s.GetBundleForTrustDomain(td)
	return bundle, err == nil
}

func (s *X509Source) current() (*x509Snapshot, error) {
	if s.closed.Load() {
		return nil, werrors.New(werrors.SourceClosed, "X509Source is closed")
	}
	snap := s.snapshot.Load()
	if snap == nil {
		return nil, werrors.New(werrors.SourceClosed, "X509Source has no snapshot yet")
	}
	return snap, nil
}

// Subscribe registers ch to receive an Update on every rotation until ctx
// is done. It does not replay the current snapshot; callers that also need
// the state as of subscription time should read GetX509SVID first.
func (s *X509Source) Subscribe(ctx context.Context, ch chan<- Update) {
	s.broadcaster.Subscribe(ctx, ch)
}

// Close stops the underlying watch and marks the source closed; subsequent
// reads fail with SourceClosed.
func (s *X509Source) Close() error {
	s.closeInternal()
	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}

func (s *X509Source) closeInternal() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.cancelWatch()
	<-s.watchDone
	s.broadcaster.Close()
}

func defaultX509SVIDPicker(svids []*x509svid.SVID) *x509svid.SVID {
	if len(svids) == 0 {
		return nil
	}
	return svids[0]
}

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

	"github.com/spiffe/go-spiffe/v2/proto/spiffe/workload"

	"github.com/spiffe/go-workloadapi/backoff"
	"github.com/spiffe/go-workloadapi/bundle/x509bundle"
	werrors "github.com/spiffe/go-workloadapi/errors"
	"github.com/spiffe/go-workloadapi/spiffeid"
	"github.com/spiffe/go-workloadapi/svid/x509svid"
)

// x509ContextHandler adapts an X509ContextWatcher to loop.Handler so updates
// drain through the client's loop.Factory in the server-emitted order,
// decoupling stream.Recv from however long the watcher's callback takes. A
// nil item is the shutdown sentinel enqueued by watchX509ContextOnce's
// deferred Close and carries no update.
type x509ContextHandler struct {
	watcher X509ContextWatcher
}

func (h x509ContextHandler) Handle(_ context.Context, xc *X509Context) error {
	if xc == nil {
		return nil
	}
	h.watcher.OnX509ContextUpdate(xc)
	return nil
}

// X509Context is one FetchX509SVID/WatchX509Context message, fully parsed:
// every SVID the Workload API returned (default is the first) plus the
// X.509 bundle set (including any federated bundles).
type X509Context struct {
	SVIDs   []*x509svid.SVID
	Bundles *x509bundle.Set
}

// DefaultSVID returns the first SVID in the context, the default per §4.F.
func (x *X509Context) DefaultSVID() *x509svid.SVID {
	if len(x.SVIDs) == 0 {
		return nil
	}
	return x.SVIDs[0]
}

// X509ContextWatcher receives X.509 context updates from a watched stream.
type X509ContextWatcher interface {
	// OnX509ContextUpdate is called with the latest parsed context.
	OnX509ContextUpdate(*X509Context)
	// OnX509ContextWatchError is called with every error the watch meets:
	// each stream error, retryable or terminal, before the retry decision,
	// and each update that fails to parse. Updates may still follow.
	OnX509ContextWatchError(error)
}

// FetchX509Context performs a one-shot fetch of the current X.509 context.
func (c *Client) FetchX509Context(ctx context.Context) (*X509Context, error) {
	ctx, done, err := c.newCall(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	stream, err := c.raw.FetchX509SVID(ctx, &workload.X509SVIDRequest{})
	if err != nil {
		return nil, werrors.Wrap(werrors.X509ContextFetch, "open FetchX509SVID stream", err)
	}

	resp, err := stream.Recv()
	if err != nil {
		return nil, werrors.Wrap(werrors.X509ContextFetch, "receive X.509 context", err)
	}

	return parseX509Context(resp)
}

// WatchX509Context subscribes to X.509 context updates until ctx is done or
// a terminal error occurs. Every transport error is reported to watcher
// before a decision is made to retry or stop; the retry/backoff schedule
// from the client's configuration governs re-subscription.
func (c *Client) WatchX509Context(ctx context.Context, watcher X509ContextWatcher) error {
	rh := backoff.NewRetryHandler(c.config.retryConfig, c.config.clock)
	for {
		err := c.watchX509ContextOnce(ctx, watcher, rh)
		watcher.OnX509ContextWatchError(err)

		terminal, wrapped := classify(err)
		if terminal {
			return wrapped
		}
		if err := c.waitRetry(ctx, rh); err != nil {
			return err
		}
	}
}

func (c *Client) watchX509ContextOnce(ctx context.Context, watcher X509ContextWatcher, rh *backoff.RetryHandler) error {
	ctx, done, err := c.newStream(ctx)
	if err != nil {
		return err
	}
	defer done()

	stream, err := c.raw.FetchX509SVID(ctx, &workload.X509SVIDRequest{})
	if err != nil {
		return err
	}

	l := c.x509LoopFactory.NewLoop(x509ContextHandler{watcher: watcher})
	defer c.x509LoopFactory.CacheLoop(l)

	loopDone := make(chan error, 1)
	go func() { loopDone <- l.Run(ctx) }()
	defer func() {
		l.Close(nil)
		<-loopDone
	}()

	for {
		resp, err := stream.Recv()
		if err != nil {
			return err
		}

		x509Context, err := parseX509Context(resp)
		if err != nil {
			c.config.log.Errorf("failed to parse X.509 context update: %v", err)
			watcher.OnX509ContextWatchError(err)
			continue
		}

		rh.Reset()
		l.Enqueue(x509Context)
	}
}

func parseX509Context(resp *workload.X509SVIDResponse) (*X509Context, error) {
	svids, err := parseX509SVIDs(resp)
	if err != nil {
		return nil, err
	}
	bundles, err := parseX509Bundles(resp)
	if err != nil {
		return nil, err
	}
	return &X509Context{SVIDs: svids, Bundles: bundles}, nil
}

func parseX509SVIDs(resp *workload.X509SVIDResponse) ([]*x509svid.SVID, error) {
	if len(resp.GetSvids()) == 0 {
		return nil, werrors.New(werrors.X509SvidParse, "Workload API response contained no X.509 SVIDs")
	}

	svids := make([]*x509svid.SVID, 0, len(resp.GetSvids()))
	for _, entry := range resp.GetSvids() {
		s, err := x509svid.ParseRaw(entry.GetX509Svid(), entry.GetX509SvidKey())
		if err != nil {
			return nil, err
		}
		svids = append(svids, s)
	}
	return svids, nil
}

func parseX509Bundles(resp *workload.X509SVIDResponse) (*x509bundle.Set, error) {
	var bundles []*x509bundle.Bundle

	seen := make(map[string]struct{})
	for _, entry := range resp.GetSvids() {
		if _, ok := seen[entry.GetSpiffeId()]; ok {
			continue
		}
		seen[entry.GetSpiffeId()] = struct{}{}

		b, err := parseX509Bundle(entry.GetSpiffeId(), entry.GetBundle())
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, b)
	}

	for tdName, raw := range resp.GetFederatedBundles() {
		td, err := spiffeid.ParseTrustDomain(tdName)
		if err != nil {
			return nil, err
		}
		b, err := x509bundle.Parse(td, raw)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, b)
	}

	return x509bundle.NewSet(bundles...), nil
}

func parseX509Bundle(spiffeID string, raw []byte) (*x509bundle.Bundle, error) {
	id, err := spiffeid.Parse(spiffeID)
	if err != nil {
		return nil, err
	}
	return x509bundle.Parse(id.TrustDomain(), raw)
}

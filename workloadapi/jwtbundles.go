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
	"github.com/spiffe/go-workloadapi/bundle/jwtbundle"
	werrors "github.com/spiffe/go-workloadapi/errors"
	"github.com/spiffe/go-workloadapi/spiffeid"
)

// JWTBundleWatcher receives JWT bundle set updates from a watched stream.
type JWTBundleWatcher interface {
	OnJWTBundlesUpdate(*jwtbundle.Set)
	OnJWTBundlesWatchError(error)
}

// jwtBundlesHandler adapts a JWTBundleWatcher to loop.Handler, mirroring
// x509ContextHandler: updates drain through the client's loop.Factory
// in order, and a nil item is the shutdown sentinel.
type jwtBundlesHandler struct {
	watcher JWTBundleWatcher
}

func (h jwtBundlesHandler) Handle(_ context.Context, set *jwtbundle.Set) error {
	if set == nil {
		return nil
	}
	h.watcher.OnJWTBundlesUpdate(set)
	return nil
}

// FetchJWTBundles performs a one-shot fetch of the current JWT bundle set.
func (c *Client) FetchJWTBundles(ctx context.Context) (*jwtbundle.Set, error) {
	ctx, done, err := c.newCall(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	stream, err := c.raw.FetchJWTBundles(ctx, &workload.JWTBundlesRequest{})
	if err != nil {
		return nil, werrors.Wrap(werrors.JwtBundleFetch, "open FetchJWTBundles stream", err)
	}

	resp, err := stream.Recv()
	if err != nil {
		return nil, werrors.Wrap(werrors.JwtBundleFetch, "receive JWT bundles", err)
	}

	return parseJWTBundles(resp)
}

// WatchJWTBundles subscribes to JWT bundle set updates until ctx is done or
// a terminal error occurs, with the same retry discipline as
// WatchX509Context.
func (c *Client) WatchJWTBundles(ctx context.Context, watcher JWTBundleWatcher) error {
	rh := backoff.NewRetryHandler(c.config.retryConfig, c.config.clock)
	for {
		err := c.watchJWTBundlesOnce(ctx, watcher, rh)
		watcher.OnJWTBundlesWatchError(err)

		terminal, wrapped := classify(err)
		if terminal {
			return wrapped
		}
		if err := c.waitRetry(ctx, rh); err != nil {
			return err
		}
	}
}

func (c *Client) watchJWTBundlesOnce(ctx context.Context, watcher JWTBundleWatcher, rh *backoff.RetryHandler) error {
	ctx, done, err := c.newStream(ctx)
	if err != nil {
		return err
	}
	defer done()

	stream, err := c.raw.FetchJWTBundles(ctx, &workload.JWTBundlesRequest{})
	if err != nil {
		return err
	}

	l := c.jwtLoopFactory.NewLoop(jwtBundlesHandler{watcher: watcher})
	defer c.jwtLoopFactory.CacheLoop(l)

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

		bundles, err := parseJWTBundles(resp)
		if err != nil {
			c.config.log.Errorf("failed to parse JWT bundles update: %v", err)
			watcher.OnJWTBundlesWatchError(err)
			continue
		}

		rh.Reset()
		l.Enqueue(bundles)
	}
}

func parseJWTBundles(resp *workload.JWTBundlesResponse) (*jwtbundle.Set, error) {
	var bundles []*jwtbundle.Bundle
	for tdName, raw := range resp.GetBundles() {
		td, err := spiffeid.ParseTrustDomain(tdName)
		if err != nil {
			return nil, err
		}
		b, err := jwtbundle.Parse(td, raw)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, b)
	}
	return jwtbundle.NewSet(bundles...), nil
}

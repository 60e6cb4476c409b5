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

// Package workloadapi implements a client for the SPIFFE Workload API: the
// four RPCs, a watcher/stream abstraction over them, and the X509Source/
// JwtSource rotation engine built on top.
package workloadapi

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/spiffe/go-spiffe/v2/proto/spiffe/workload"

	"github.com/spiffe/go-workloadapi/backoff"
	"github.com/spiffe/go-workloadapi/bundle/jwtbundle"
	werrors "github.com/spiffe/go-workloadapi/errors"
	"github.com/spiffe/go-workloadapi/internal/log"
	"github.com/spiffe/go-workloadapi/internal/loop"
	"github.com/spiffe/go-workloadapi/internal/scope"
)

const securityHeaderKey = "workload.spiffe.io"

// watchLoopSegmentSize bounds how many pending updates a single queue
// segment in a watch loop buffers before a new segment is allocated. X509
// context and JWT bundle updates are infrequent (they track certificate/key
// rotation, not request traffic), so a small segment is enough to decouple
// stream.Recv from a slow watcher callback without over-allocating.
const watchLoopSegmentSize = 4

// Client is a connection to a Workload API endpoint, wrapping the four RPCs
// with retry/backoff-driven stream re-subscription and structured
// cancellation.
type Client struct {
	conn   *grpc.ClientConn
	raw    workload.SpiffeWorkloadAPIClient
	config clientConfig
	scope  *scope.Scope

	x509LoopFactory *loop.Factory[*X509Context]
	jwtLoopFactory  *loop.Factory[*jwtbundle.Set]
}

// New dials the Workload API at the configured (or environment-derived)
// address and returns a ready-to-use Client.
func New(ctx context.Context, opts ...ClientOption) (*Client, error) {
	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt.configureClient(&cfg)
	}

	if cfg.address == "" {
		addr, ok := GetDefaultAddress()
		if !ok {
			return nil, werrors.New(werrors.SocketEndpointAddress, "no endpoint address configured and SPIFFE_ENDPOINT_SOCKET is not set")
		}
		cfg.address = addr
	}

	target, err := parseTarget(cfg.address)
	if err != nil {
		return nil, err
	}

	dial, err := targetDialer(target)
	if err != nil {
		return nil, err
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(securityHeaderCredentials{}),
		grpc.WithContextDialer(dial),
	}, cfg.dialOptions...)

	conn, err := grpc.DialContext(ctx, target, dialOpts...) //nolint:staticcheck
	if err != nil {
		return nil, werrors.Wrap(werrors.ClientClosed, "dial Workload API", err)
	}

	return &Client{
		conn:            conn,
		raw:             workload.NewSpiffeWorkloadAPIClient(conn),
		config:          cfg,
		scope:           scope.New(context.Background()),
		x509LoopFactory: loop.New[*X509Context](watchLoopSegmentSize),
		jwtLoopFactory:  loop.New[*jwtbundle.Set](watchLoopSegmentSize),
	}, nil
}

// Close cancels every open stream, releases the connection, and fails all
// subsequent calls with a ClientClosed error.
func (c *Client) Close() error {
	c.scope.Close()
	return c.conn.Close()
}

// securityHeaderCredentials attaches the "workload.spiffe.io: true" header
// required by every Workload API call via grpc's per-RPC credentials hook,
// rather than threading it through every call site.
type securityHeaderCredentials struct{}

func (securityHeaderCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{securityHeaderKey: "true"}, nil
}

func (securityHeaderCredentials) RequireTransportSecurity() bool { return false }

// newCall derives a cancellable, header-bearing context for a single
// one-shot RPC.
func (c *Client) newCall(ctx context.Context) (context.Context, func(), error) {
	return c.newStreamContext(ctx)
}

// newStream derives a cancellable, header-bearing context for a
// long-running stream, registered with the client's scope so Close() waits
// for it.
func (c *Client) newStream(ctx context.Context) (context.Context, func(), error) {
	return c.newStreamContext(ctx)
}

func (c *Client) newStreamContext(callerCtx context.Context) (context.Context, func(), error) {
	scopeCtx, scopeDone, err := c.scope.NewStream()
	if err != nil {
		return nil, nil, err
	}

	streamCtx, cancel := context.WithCancel(scopeCtx)
	stop := context.AfterFunc(callerCtx, cancel)

	header := metadata.Pairs(securityHeaderKey, "true")
	streamCtx = metadata.NewOutgoingContext(streamCtx, header)

	done := func() {
		stop()
		cancel()
		scopeDone()
	}
	return streamCtx, done, nil
}

// waitRetry blocks until the next scheduled retry delay elapses, the
// context is done, or the retry budget is exhausted.
func (c *Client) waitRetry(ctx context.Context, rh *backoff.RetryHandler) error {
	if c.config.retryConfig.MaxRetries >= 0 && rh.RetryCount() >= c.config.retryConfig.MaxRetries {
		return werrors.New(werrors.ClientClosed, "exhausted retry attempts re-subscribing to the Workload API")
	}

	done := make(chan struct{})
	rh.ScheduleRetry(func() { close(done) })

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// classify maps a transport error to the taxonomy used by this package:
// codes.InvalidArgument (missing/bad security header), a closed scope, and
// cancellation (context.Canceled or codes.Canceled) are terminal; everything
// else, including stream completion (io.EOF), is retryable.
func classify(err error) (terminal bool, wrapped error) {
	if err == nil {
		return false, nil
	}
	if errors.Is(err, context.Canceled) || werrors.Is(err, werrors.ClientClosed) {
		return true, err
	}
	code := status.Code(err)
	switch code {
	case codes.InvalidArgument:
		return true, werrors.Wrap(werrors.InvalidArgument, "Workload API rejected the request", err)
	case codes.Canceled:
		return true, err
	}
	if errors.Is(err, io.EOF) {
		return false, err
	}
	return false, err
}

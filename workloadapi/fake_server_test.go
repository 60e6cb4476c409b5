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
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/spiffe/go-spiffe/v2/proto/spiffe/workload"
)

const bufSize = 1024 * 1024

// fakeWorkloadAPIServer is a minimal, hand-fed implementation of the
// generated Workload API server interface: each stream RPC drains a channel
// of canned responses until it's closed or the stream context ends, so a
// test can dribble out updates (or silence) on its own schedule.
type fakeWorkloadAPIServer struct {
	workload.UnimplementedSpiffeWorkloadAPIServer

	requireHeader bool

	x509Responses chan *workload.X509SVIDResponse
	x509OpenErr   error

	jwtBundlesResponses chan *workload.JWTBundlesResponse
	jwtBundlesOpenErr   error

	jwtSVIDResp *workload.JWTSVIDResponse
	jwtSVIDErr  error

	validateErr error
}

func newFakeWorkloadAPIServer() *fakeWorkloadAPIServer {
	return &fakeWorkloadAPIServer{
		x509Responses:       make(chan *workload.X509SVIDResponse, 8),
		jwtBundlesResponses: make(chan *workload.JWTBundlesResponse, 8),
	}
}

func (s *fakeWorkloadAPIServer) checkHeader(ctx context.Context) error {
	if !s.requireHeader {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok || len(md.Get(securityHeaderKey)) == 0 {
		return status.Error(codes.InvalidArgument, "missing "+securityHeaderKey+" header")
	}
	return nil
}

func (s *fakeWorkloadAPIServer) FetchX509SVID(_ *workload.X509SVIDRequest, stream workload.SpiffeWorkloadAPI_FetchX509SVIDServer) error {
	if err := s.checkHeader(stream.Context()); err != nil {
		return err
	}
	if s.x509OpenErr != nil {
		return s.x509OpenErr
	}
	for {
		select {
		case resp, ok := <-s.x509Responses:
			if !ok {
				return nil
			}
			if err := stream.Send(resp); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

func (s *fakeWorkloadAPIServer) FetchJWTBundles(_ *workload.JWTBundlesRequest, stream workload.SpiffeWorkloadAPI_FetchJWTBundlesServer) error {
	if err := s.checkHeader(stream.Context()); err != nil {
		return err
	}
	if s.jwtBundlesOpenErr != nil {
		return s.jwtBundlesOpenErr
	}
	for {
		select {
		case resp, ok := <-s.jwtBundlesResponses:
			if !ok {
				return nil
			}
			if err := stream.Send(resp); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

func (s *fakeWorkloadAPIServer) FetchJWTSVID(ctx context.Context, _ *workload.JWTSVIDRequest) (*workload.JWTSVIDResponse, error) {
	if err := s.checkHeader(ctx); err != nil {
		return nil, err
	}
	if s.jwtSVIDErr != nil {
		return nil, s.jwtSVIDErr
	}
	return s.jwtSVIDResp, nil
}

func (s *fakeWorkloadAPIServer) ValidateJWTSVID(ctx context.Context, req *workload.ValidateJWTSVIDRequest) (*workload.ValidateJWTSVIDResponse, error) {
	if err := s.checkHeader(ctx); err != nil {
		return nil, err
	}
	if s.validateErr != nil {
		return nil, s.validateErr
	}
	return &workload.ValidateJWTSVIDResponse{Svid: req.GetSvid()}, nil
}

// startTestServer serves fake over an in-memory bufconn listener and returns
// a placeholder address, a dial option that routes connections to that
// listener, and a cleanup func.
func startTestServer(t *testing.T, fake *fakeWorkloadAPIServer) (addr string, dialOpt grpc.DialOption, cleanup func()) {
	t.Helper()

	lis := bufconn.Listen(bufSize)
	grpcServer := grpc.NewServer()
	workload.RegisterSpiffeWorkloadAPIServer(grpcServer, fake)

	go func() {
		_ = grpcServer.Serve(lis)
	}()

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})

	return "tcp://127.0.0.1:0", dialer, func() {
		grpcServer.Stop()
		_ = lis.Close()
	}
}

func newTestClient(t *testing.T, fake *fakeWorkloadAPIServer, opts ...ClientOption) *Client {
	t.Helper()

	addr, dialer, cleanup := startTestServer(t, fake)
	t.Cleanup(cleanup)

	allOpts := append([]ClientOption{WithAddr(addr), WithDialOptions(dialer)}, opts...)
	c, err := New(context.Background(), allOpts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

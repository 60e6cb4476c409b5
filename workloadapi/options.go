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
	"time"

	"google.golang.org/grpc"
	"k8s.io/utils/clock"

	"github.com/spiffe/go-workloadapi/backoff"
	"github.com/spiffe/go-workloadapi/internal/log"
	"github.com/spiffe/go-workloadapi/svid/x509svid"
)

// X509SVIDPicker selects which of a received list of X.509 SVIDs an
// X509Source should publish. Returning nil on the first update fails source
// initialization with a SourceInitialization error; returning nil on a later
// update is logged as an error and the previous snapshot stays published.
type X509SVIDPicker func(svids []*x509svid.SVID) *x509svid.SVID

type clientConfig struct {
	address     string
	log         log.Logger
	clock       clock.Clock
	dialOptions []grpc.DialOption
	retryConfig backoff.Config
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		log:         log.Nop(),
		clock:       clock.RealClock{},
		retryConfig: backoff.DefaultConfig(),
	}
}

// ClientOption configures a Client constructed by New.
type ClientOption interface {
	configureClient(*clientConfig)
}

type clientOptionFunc func(*clientConfig)

func (f clientOptionFunc) configureClient(c *clientConfig) { f(c) }

// WithAddr overrides the Workload API endpoint address instead of reading
// SPIFFE_ENDPOINT_SOCKET from the environment.
func WithAddr(addr string) ClientOption {
	return clientOptionFunc(func(c *clientConfig) { c.address = addr })
}

// WithLogger sets the logger used by the client and anything built on top
// of it (sources, the helper).
func WithLogger(logger log.Logger) ClientOption {
	return clientOptionFunc(func(c *clientConfig) { c.log = logger })
}

// WithClock overrides the clock used for retry/backoff scheduling. Intended
// for tests.
func WithClock(clk clock.Clock) ClientOption {
	return clientOptionFunc(func(c *clientConfig) { c.clock = clk })
}

// WithDialOptions appends additional grpc.DialOptions to the dial used by
// New, e.g. to attach interceptors or alternate transport credentials.
func WithDialOptions(opts ...grpc.DialOption) ClientOption {
	return clientOptionFunc(func(c *clientConfig) { c.dialOptions = append(c.dialOptions, opts...) })
}

// WithRetryConfig overrides the default backoff configuration used when
// re-subscribing to a dropped stream.
func WithRetryConfig(cfg backoff.Config) ClientOption {
	return clientOptionFunc(func(c *clientConfig) { c.retryConfig = cfg })
}

// SourceOption configures an X509Source or JwtSource constructed by
// NewX509Source/NewJwtSource, in addition to any ClientOption (sources
// accept and forward both).
type SourceOption interface {
	configureSource(*sourceConfig)
}

type sourceConfig struct {
	client        *Client
	clientOptions []ClientOption
	initTimeout   time.Duration
	svidPicker    X509SVIDPicker
}

type sourceOptionFunc func(*sourceConfig)

func (f sourceOptionFunc) configureSource(c *sourceConfig) { f(c) }

// WithClient adopts an already-constructed Client instead of dialing a new
// one. The source does not close the client on Close(); callers retain
// ownership of a client they pass in.
func WithClient(client *Client) SourceOption {
	return sourceOptionFunc(func(c *sourceConfig) { c.client = client })
}

// WithClientOptions supplies the ClientOption values used to dial a new
// Client when the source isn't constructed with WithClient.
func WithClientOptions(opts ...ClientOption) SourceOption {
	return sourceOptionFunc(func(c *sourceConfig) { c.clientOptions = append(c.clientOptions, opts...) })
}

// WithInitTimeout bounds how long NewX509Source/NewJwtSource block waiting
// for the first update. Zero (the default) waits forever.
func WithInitTimeout(d time.Duration) SourceOption {
	return sourceOptionFunc(func(c *sourceConfig) { c.initTimeout = d })
}

// WithDefaultX509SVIDPicker overrides the default "first SVID in the list"
// selection rule applied on every X.509 context update.
func WithDefaultX509SVIDPicker(picker X509SVIDPicker) SourceOption {
	return sourceOptionFunc(func(c *sourceConfig) { c.svidPicker = picker })
}

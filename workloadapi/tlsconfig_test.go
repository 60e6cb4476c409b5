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
	"crypto/tls"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spiffe/go-workloadapi/spiffeid"
)

func TestNewTLSConfigServesCurrentSVID(t *testing.T) {
	fake := newFakeWorkloadAPIServer()
	svidA := buildTestSVID(t, "spiffe://example.org/server")
	src := newTestX509Source(t, fake, svidA)

	cfg := NewTLSConfig(src, nil)
	cert, err := cfg.GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	assert.NotEmpty(t, cert.Certificate)
	assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)
}

func TestNewTLSConfigWithAuthorizationRequiresClientCert(t *testing.T) {
	fake := newFakeWorkloadAPIServer()
	svidA := buildTestSVID(t, "spiffe://example.org/server")
	src := newTestX509Source(t, fake, svidA)

	authorize := func(id spiffeid.SpiffeId) error { return nil }
	cfg := NewTLSConfig(src, authorize)
	assert.Equal(t, tls.RequireAnyClientCert, cfg.ClientAuth)
	assert.NotNil(t, cfg.VerifyPeerCertificate)
}

func TestNewMTLSConfigVerifiesPeerAgainstBundle(t *testing.T) {
	ca := newTestCA(t)
	clientFx := ca.issue(t, "spiffe://example.org/client")
	serverFx := ca.issue(t, "spiffe://example.org/server")

	fake := newFakeWorkloadAPIServer()
	src := newTestX509Source(t, fake, clientFx)

	authorizeCalled := false
	authorize := func(id spiffeid.SpiffeId) error {
		authorizeCalled = true
		assert.Equal(t, serverFx.spiffeID, id.String())
		return nil
	}

	cfg := NewMTLSConfig(src, authorize)
	leafDER := serverFx.certDER[:len(serverFx.certDER)-len(serverFx.rootDER)]
	require.NoError(t, cfg.VerifyPeerCertificate([][]byte{leafDER, serverFx.rootDER}, nil))
	assert.True(t, authorizeCalled)
}

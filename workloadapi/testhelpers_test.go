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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"math/big"
	"net/url"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/spiffe/go-spiffe/v2/proto/spiffe/workload"
)

// testSVIDFixture is a minimal leaf+root chain for one SPIFFE ID, in the raw
// DER shapes the Workload API puts on the wire (no PEM armor).
type testSVIDFixture struct {
	spiffeID string
	certDER  []byte // leaf || root, concatenated DER
	keyDER   []byte // leaf private key, PKCS#8 DER
	rootDER  []byte // root only, for the bundle field
}

// testCA is a self-signed root used to issue one or more leaf SVIDs that
// share a trust domain and so validate against the same bundle.
type testCA struct {
	key     *ecdsa.PrivateKey
	cert    *x509.Certificate
	certDER []byte
}

func newTestCA(t *testing.T) testCA {
	t.Helper()

	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	require.NoError(t, err)
	root, err := x509.ParseCertificate(rootDER)
	require.NoError(t, err)

	return testCA{key: rootKey, cert: root, certDER: rootDER}
}

func (ca testCA) issue(t *testing.T, spiffeID string) testSVIDFixture {
	t.Helper()

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	uri, err := url.Parse(spiffeID)
	require.NoError(t, err)
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "leaf"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		URIs:         []*url.URL{uri},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, ca.cert, &leafKey.PublicKey, ca.key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalPKCS8PrivateKey(leafKey)
	require.NoError(t, err)

	return testSVIDFixture{
		spiffeID: spiffeID,
		certDER:  append(append([]byte{}, leafDER...), ca.certDER...),
		keyDER:   keyDER,
		rootDER:  ca.certDER,
	}
}

func buildTestSVID(t *testing.T, spiffeID string) testSVIDFixture {
	t.Helper()
	return newTestCA(t).issue(t, spiffeID)
}

func x509SVIDResponse(t *testing.T, fixtures ...testSVIDFixture) *workload.X509SVIDResponse {
	t.Helper()
	resp := &workload.X509SVIDResponse{}
	for _, fx := range fixtures {
		resp.Svids = append(resp.Svids, &workload.X509SVID{
			SpiffeId:    fx.spiffeID,
			X509Svid:    fx.certDER,
			X509SvidKey: fx.keyDER,
			Bundle:      fx.rootDER,
		})
	}
	return resp
}

// buildJWKS returns a JWKS document containing pub under kid.
func buildJWKS(t *testing.T, kid string, pub interface{}) []byte {
	t.Helper()

	key, err := jwk.FromRaw(pub)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, kid))
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.ES256))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(key))

	out, err := json.Marshal(set)
	require.NoError(t, err)
	return out
}

// buildTestJWTSVID mints a compact JWT with the given subject/audience,
// signed by priv under kid, expiring in d.
func buildTestJWTSVID(t *testing.T, priv *ecdsa.PrivateKey, kid, subject string, audience []string, d time.Duration) string {
	t.Helper()

	tok, err := jwt.NewBuilder().
		Subject(subject).
		Audience(audience).
		Expiration(time.Now().Add(d)).
		IssuedAt(time.Now()).
		Build()
	require.NoError(t, err)

	hdrs := jws.NewHeaders()
	require.NoError(t, hdrs.Set(jws.KeyIDKey, kid))

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.ES256, priv, jws.WithProtectedHeaders(hdrs)))
	require.NoError(t, err)
	return string(signed)
}

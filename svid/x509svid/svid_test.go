package x509svid

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spiffe/go-workloadapi/bundle/x509bundle"
	"github.com/spiffe/go-workloadapi/errors"
	"github.com/spiffe/go-workloadapi/spiffeid"
)

type chainFixture struct {
	leafDER []byte
	leafKey *ecdsa.PrivateKey
	root    *x509.Certificate
	chain   []*x509.Certificate
}

func buildChain(t *testing.T, id string) *chainFixture {
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

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	uri, err := url.Parse(id)
	require.NoError(t, err)
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "leaf"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IsCA:         false,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		URIs:         []*url.URL{uri},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, root, &leafKey.PublicKey, rootKey)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(leafDER)
	require.NoError(t, err)

	return &chainFixture{
		leafDER: leafDER,
		leafKey: leafKey,
		root:    root,
		chain:   []*x509.Certificate{leaf, root},
	}
}

func encodePEMChain(certs ...[]byte) []byte {
	var out []byte
	for _, der := range certs {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})...)
	}
	return out
}

func encodePKCS8Key(t *testing.T, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func TestParseRawValid(t *testing.T) {
	fx := buildChain(t, "spiffe://example.org/myservice")
	certBytes := encodePEMChain(fx.leafDER, fx.root.Raw)
	keyBytes := encodePKCS8Key(t, fx.leafKey)

	svid, err := ParseRaw(certBytes, keyBytes)
	require.NoError(t, err)
	assert.Equal(t, "spiffe://example.org/myservice", svid.ID.String())
	assert.Len(t, svid.Certificates, 2)
}

func TestParseRawRejectsEmptyCertBytes(t *testing.T) {
	fx := buildChain(t, "spiffe://example.org/myservice")
	_, err := ParseRaw([]byte{}, encodePKCS8Key(t, fx.leafKey))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.X509SvidParse))
}

func TestParseRawRejectsMultipleURISANs(t *testing.T) {
	rootKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	rootTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "root"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IsCA:         true,
		KeyUsage:     x509.KeyUsageCertSign,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	require.NoError(t, err)
	root, err := x509.ParseCertificate(rootDER)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	uri1, _ := url.Parse("spiffe://example.org/a")
	uri2, _ := url.Parse("spiffe://example.org/b")
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		URIs:         []*url.URL{uri1, uri2},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, root, &leafKey.PublicKey, rootKey)
	require.NoError(t, err)

	_, err = ParseRaw(encodePEMChain(leafDER, root.Raw), encodePKCS8Key(t, leafKey))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.X509SvidParse))
}

func TestVerifyChainSucceeds(t *testing.T) {
	fx := buildChain(t, "spiffe://example.org/myservice")
	td := spiffeid.RequireTrustDomainFromString("example.org")
	bundle := x509bundle.FromCertificates(td, []*x509.Certificate{fx.root})
	set := x509bundle.NewSet(bundle)

	id, chains, err := VerifyChain(fx.chain, set)
	require.NoError(t, err)
	assert.Equal(t, "spiffe://example.org/myservice", id.String())
	assert.NotEmpty(t, chains)
}

func TestVerifyChainFailsWithUnrelatedRoot(t *testing.T) {
	fx := buildChain(t, "spiffe://example.org/myservice")
	other := buildChain(t, "spiffe://example.org/other")

	td := spiffeid.RequireTrustDomainFromString("example.org")
	bundle := x509bundle.FromCertificates(td, []*x509.Certificate{other.root})
	set := x509bundle.NewSet(bundle)

	_, _, err := VerifyChain(fx.chain, set)
	require.Error(t, err)
}

func TestVerifySpiffeIdAcceptedSet(t *testing.T) {
	fx := buildChain(t, "spiffe://example.org/test")
	leaf, err := x509.ParseCertificate(fx.leafDER)
	require.NoError(t, err)

	accepted := map[spiffeid.SpiffeId]struct{}{
		spiffeid.RequireFromString("spiffe://example.org/test"):  {},
		spiffeid.RequireFromString("spiffe://example.org/test2"): {},
	}
	id, err := VerifySpiffeId(leaf, accepted)
	require.NoError(t, err)
	assert.Equal(t, "spiffe://example.org/test", id.String())

	rejected := map[spiffeid.SpiffeId]struct{}{
		spiffeid.RequireFromString("spiffe://example.org/other1"): {},
		spiffeid.RequireFromString("spiffe://example.org/other2"): {},
	}
	_, err = VerifySpiffeId(leaf, rejected)
	require.Error(t, err)
}

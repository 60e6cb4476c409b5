package x509bundle

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/spiffe/go-workloadapi/spiffeid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSigned(t *testing.T, cn string) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IsCA:         true,
		KeyUsage:     x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestAddHasRemoveAuthority(t *testing.T) {
	td := spiffeid.RequireTrustDomainFromString("example.org")
	b := New(td)
	cert := selfSigned(t, "ca1")

	assert.False(t, b.HasX509Authority(cert))
	b.AddAuthority(cert)
	assert.True(t, b.HasX509Authority(cert))
	assert.Len(t, b.X509Authorities(), 1)

	b.RemoveAuthority(cert)
	assert.False(t, b.HasX509Authority(cert))
	assert.Empty(t, b.X509Authorities())
}

func TestParseEncodeRoundTrip(t *testing.T) {
	td := spiffeid.RequireTrustDomainFromString("example.org")
	cert1 := selfSigned(t, "ca1")
	cert2 := selfSigned(t, "ca2")

	b := FromCertificates(td, []*x509.Certificate{cert1, cert2})
	encoded := b.Encode()

	b2, err := Parse(td, encoded)
	require.NoError(t, err)
	assert.True(t, b.Equal(b2))
}

func TestParseRejectsEmpty(t *testing.T) {
	td := spiffeid.RequireTrustDomainFromString("example.org")
	_, err := Parse(td, []byte{})
	require.Error(t, err)
}

func TestParseRejectsGarbage(t *testing.T) {
	td := spiffeid.RequireTrustDomainFromString("example.org")
	_, err := Parse(td, []byte("not a certificate"))
	require.Error(t, err)
}

func TestCloneIsIndependent(t *testing.T) {
	td := spiffeid.RequireTrustDomainFromString("example.org")
	cert := selfSigned(t, "ca1")
	b := FromCertificates(td, []*x509.Certificate{cert})

	clone := b.Clone()
	clone.RemoveAuthority(cert)

	assert.True(t, b.HasX509Authority(cert))
	assert.False(t, clone.HasX509Authority(cert))
}

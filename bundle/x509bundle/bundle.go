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

// Package x509bundle implements the X.509 trust bundle: a trust-domain-keyed
// set of X.509 certificate authorities used to validate peer certificate
// chains.
package x509bundle

import (
	"crypto/x509"
	"os"

	werrors "github.com/spiffe/go-workloadapi/errors"
	"github.com/spiffe/go-workloadapi/internal/concurrency"
	"github.com/spiffe/go-workloadapi/spiffeid"
)

// Bundle is a set of X.509 certificate authorities for a single trust
// domain. Safe for concurrent use; insertions and removals may happen while
// other goroutines read the authority set.
type Bundle struct {
	td   spiffeid.TrustDomain
	auth concurrency.Map[string, *x509.Certificate]
}

// New creates an empty bundle for the given trust domain.
func New(td spiffeid.TrustDomain) *Bundle {
	return &Bundle{
		td:   td,
		auth: concurrency.NewMap[string, *x509.Certificate](),
	}
}

// FromCertificates creates a bundle for td seeded with authorities.
func FromCertificates(td spiffeid.TrustDomain, authorities []*x509.Certificate) *Bundle {
	b := New(td)
	for _, c := range authorities {
		b.AddAuthority(c)
	}
	return b
}

// Load reads a file containing PEM or DER-encoded X.509 certificates and
// returns a bundle for td built from them.
func Load(td spiffeid.TrustDomain, path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, werrors.Wrap(werrors.BundleParse, "unable to read X.509 bundle file", err)
	}
	return Parse(td, data)
}

// Parse decodes a PEM or DER-encoded sequence of X.509 certificates into a
// bundle for td. At least one certificate is required.
func Parse(td spiffeid.TrustDomain, data []byte) (*Bundle, error) {
	certs, err := parseCertificates(data)
	if err != nil {
		return nil, werrors.Wrap(werrors.BundleParse, "unable to parse X.509 bundle", err)
	}
	if len(certs) == 0 {
		return nil, werrors.New(werrors.BundleParse, "no certificates found in X.509 bundle")
	}
	return FromCertificates(td, certs), nil
}

// TrustDomain returns the trust domain the bundle belongs to.
func (b *Bundle) TrustDomain() spiffeid.TrustDomain {
	return b.td
}

// X509Authorities returns the bundle's current set of authorities. The
// returned slice is a snapshot; mutating it has no effect on the bundle.
func (b *Bundle) X509Authorities() []*x509.Certificate {
	var out []*x509.Certificate
	b.auth.Range(func(_ string, c *x509.Certificate) bool {
		out = append(out, c)
		return true
	})
	return out
}

// HasX509Authority reports whether cert (matched by raw DER bytes) is
// present in the bundle.
func (b *Bundle) HasX509Authority(cert *x509.Certificate) bool {
	_, ok := b.auth.Load(authorityKey(cert))
	return ok
}

// AddAuthority adds cert to the bundle's authority set. A no-op if already
// present.
func (b *Bundle) AddAuthority(cert *x509.Certificate) {
	b.auth.Store(authorityKey(cert), cert)
}

// RemoveAuthority removes cert from the bundle's authority set, if present.
func (b *Bundle) RemoveAuthority(cert *x509.Certificate) {
	b.auth.Delete(authorityKey(cert))
}

// Equal reports whether b and other hold the same trust domain and the same
// set of authorities.
func (b *Bundle) Equal(other *Bundle) bool {
	if other == nil {
		return false
	}
	if b.td != other.td {
		return false
	}
	a1 := b.X509Authorities()
	a2 := other.X509Authorities()
	if len(a1) != len(a2) {
		return false
	}
	for _, c := range a1 {
		if !other.HasX509Authority(c) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the bundle, safe to mutate independently.
func (b *Bundle) Clone() *Bundle {
	return FromCertificates(b.td, b.X509Authorities())
}

func authorityKey(cert *x509.Certificate) string {
	return string(cert.Raw)
}

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

// Package jwtbundle implements the JWT trust bundle: a trust-domain-keyed
// mapping of key ID to public key, parsed from a JWKS document, used to
// verify JWT-SVID signatures.
package jwtbundle

import (
	"crypto"
	"os"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"

	werrors "github.com/spiffe/go-workloadapi/errors"
	"github.com/spiffe/go-workloadapi/internal/concurrency"
	"github.com/spiffe/go-workloadapi/spiffeid"
)

// Bundle is a set of JWT signing authorities, keyed by key ID, for a single
// trust domain. Safe for concurrent use.
type Bundle struct {
	td   spiffeid.TrustDomain
	keys concurrency.Map[string, crypto.PublicKey]
}

// New creates an empty bundle for the given trust domain.
func New(td spiffeid.TrustDomain) *Bundle {
	return &Bundle{
		td:   td,
		keys: concurrency.NewMap[string, crypto.PublicKey](),
	}
}

// Load reads a file containing a JWKS document and returns a bundle for td
// built from it.
func Load(td spiffeid.TrustDomain, path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, werrors.Wrap(werrors.BundleParse, "unable to read JWT bundle file", err)
	}
	return Parse(td, data)
}

// Parse decodes a JWKS document into a bundle for td. Each key's "kid" must
// be non-empty; each key's type must be EC or RSA. Any other type, or a
// missing kid, aborts the whole parse.
func Parse(td spiffeid.TrustDomain, jwksBytes []byte) (*Bundle, error) {
	set, err := jwk.Parse(jwksBytes)
	if err != nil {
		return nil, werrors.Wrap(werrors.BundleParse, "unable to parse JWKS", err)
	}

	b := New(td)
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		if err := b.addAuthorityFromJWK(key); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Bundle) addAuthorityFromJWK(key jwk.Key) error {
	kid := key.KeyID()
	if kid == "" {
		return werrors.New(werrors.EmptyKeyId, "error adding authority of JWKS: keyID cannot be empty")
	}

	switch key.KeyType() {
	case jwa.EC, jwa.RSA:
	default:
		return werrors.Errorf(werrors.UnsupportedKeyType, "unsupported JWT authority key type %q for key %q", key.KeyType(), kid)
	}

	var pub interface{}
	if err := key.Raw(&pub); err != nil {
		return werrors.Wrap(werrors.BundleParse, "unable to materialize public key from JWKS entry", err)
	}

	b.keys.Store(kid, pub)
	return nil
}

// TrustDomain returns the trust domain the bundle belongs to.
func (b *Bundle) TrustDomain() spiffeid.TrustDomain {
	return b.td
}

// FindJWTAuthority returns the public key registered under keyID. The bool
// is false if no authority matches keyID.
func (b *Bundle) FindJWTAuthority(keyID string) (crypto.PublicKey, bool) {
	return b.keys.Load(keyID)
}

// HasJWTAuthority reports whether keyID is registered in the bundle.
func (b *Bundle) HasJWTAuthority(keyID string) bool {
	_, ok := b.keys.Load(keyID)
	return ok
}

// AddAuthority registers pub under keyID, overwriting any existing entry.
func (b *Bundle) AddAuthority(keyID string, pub crypto.PublicKey) error {
	if keyID == "" {
		return werrors.New(werrors.EmptyKeyId, "error adding authority of JWKS: keyID cannot be empty")
	}
	b.keys.Store(keyID, pub)
	return nil
}

// RemoveAuthority removes keyID from the bundle, if present.
func (b *Bundle) RemoveAuthority(keyID string) {
	b.keys.Delete(keyID)
}

// Len returns the number of authorities in the bundle.
func (b *Bundle) Len() int {
	return b.keys.Len()
}

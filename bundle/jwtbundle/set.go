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

package jwtbundle

import (
	werrors "github.com/spiffe/go-workloadapi/errors"
	"github.com/spiffe/go-workloadapi/internal/concurrency"
	"github.com/spiffe/go-workloadapi/spiffeid"
)

// Set is a mapping of trust domain to Bundle. Safe for concurrent use.
type Set struct {
	bundles concurrency.Map[spiffeid.TrustDomain, *Bundle]
}

// NewSet creates a Set seeded with the given bundles, keyed by their own
// trust domain.
func NewSet(bundles ...*Bundle) *Set {
	s := &Set{bundles: concurrency.NewMap[spiffeid.TrustDomain, *Bundle]()}
	for _, b := range bundles {
		s.bundles.Store(b.TrustDomain(), b)
	}
	return s
}

// Add registers b under its own trust domain, overwriting any existing
// bundle for that trust domain.
func (s *Set) Add(b *Bundle) {
	s.bundles.Store(b.TrustDomain(), b)
}

// Remove removes the bundle for td, if present.
func (s *Set) Remove(td spiffeid.TrustDomain) {
	s.bundles.Delete(td)
}

// GetJWTBundleForTrustDomain returns the bundle registered for td. The bool
// is false if no bundle is registered.
func (s *Set) GetJWTBundleForTrustDomain(td spiffeid.TrustDomain) (*Bundle, bool) {
	return s.bundles.Load(td)
}

// RequireBundle is like GetJWTBundleForTrustDomain but returns a
// BundleNotFound error instead of a bool.
func (s *Set) RequireBundle(td spiffeid.TrustDomain) (*Bundle, error) {
	b, ok := s.GetJWTBundleForTrustDomain(td)
	if !ok {
		return nil, werrors.Errorf(werrors.BundleNotFound, "no JWT bundle found for trust domain %q", td.String())
	}
	return b, nil
}

// Bundles returns every bundle currently in the set, in no particular
// order.
func (s *Set) Bundles() []*Bundle {
	var out []*Bundle
	s.bundles.Range(func(_ spiffeid.TrustDomain, b *Bundle) bool {
		out = append(out, b)
		return true
	})
	return out
}

// Len returns the number of trust domains registered in the set.
func (s *Set) Len() int {
	return s.bundles.Len()
}

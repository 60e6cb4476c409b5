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

package x509svid

import (
	"crypto/x509"

	"github.com/spiffe/go-workloadapi/bundle/x509bundle"
	werrors "github.com/spiffe/go-workloadapi/errors"
	"github.com/spiffe/go-workloadapi/spiffeid"
)

// BundleSource is the subset of x509bundle.Set's contract the validator
// needs: a lookup from trust domain to its bundle. Satisfied directly by
// *x509bundle.Set.
type BundleSource interface {
	GetX509BundleForTrustDomain(td spiffeid.TrustDomain) (*x509bundle.Bundle, bool)
}

// VerifyChain extracts the trust domain from chain's leaf SPIFFE ID, fetches
// its bundle from bundleSource, and builds a PKIX verification path for
// chain against that bundle's authorities as trust anchors, with revocation
// checking disabled. An empty chain is an invalid-argument error; a missing
// bundle propagates BundleNotFound.
func VerifyChain(chain []*x509.Certificate, bundleSource BundleSource) (spiffeid.SpiffeId, [][]*x509.Certificate, error) {
	if len(chain) == 0 {
		return spiffeid.SpiffeId{}, nil, werrors.New(werrors.InvalidArgument, "certificate chain must not be empty")
	}

	id, err := spiffeIDFromCertificate(chain[0])
	if err != nil {
		return spiffeid.SpiffeId{}, nil, err
	}

	bundle, ok := bundleSource.GetX509BundleForTrustDomain(id.TrustDomain())
	if !ok {
		return spiffeid.SpiffeId{}, nil, werrors.Errorf(werrors.BundleNotFound, "no X.509 bundle found for trust domain %q", id.TrustDomain().String())
	}

	authorities := bundle.X509Authorities()
	if len(authorities) == 0 {
		return spiffeid.SpiffeId{}, nil, werrors.New(werrors.InvalidArgument, "trust authority set must not be empty")
	}

	roots := x509.NewCertPool()
	intermediates := x509.NewCertPool()
	for _, c := range authorities {
		roots.AddCert(c)
	}
	for _, c := range chain[1:] {
		intermediates.AddCert(c)
	}

	chains, err := chain[0].Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return spiffeid.SpiffeId{}, nil, werrors.Wrap(werrors.X509SvidParse, "X.509 certificate chain does not verify against trust bundle", err)
	}
	return id, chains, nil
}

// VerifySpiffeId extracts the single SAN SPIFFE ID from cert and requires
// membership in accepted. An empty accepted set is always a rejection.
func VerifySpiffeId(cert *x509.Certificate, accepted map[spiffeid.SpiffeId]struct{}) (spiffeid.SpiffeId, error) {
	id, err := spiffeIDFromCertificate(cert)
	if err != nil {
		return spiffeid.SpiffeId{}, err
	}
	if _, ok := accepted[id]; !ok || len(accepted) == 0 {
		return spiffeid.SpiffeId{}, werrors.Errorf(werrors.InvalidArgument, "SPIFFE ID %s in X.509 certificate is not accepted", id.String())
	}
	return id, nil
}

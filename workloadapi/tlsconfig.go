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
	"crypto/x509"

	werrors "github.com/spiffe/go-workloadapi/errors"
	"github.com/spiffe/go-workloadapi/spiffeid"
	"github.com/spiffe/go-workloadapi/svid/x509svid"
)

// NewTLSConfig returns a server-side *tls.Config that presents the
// X509Source's current SVID and, if authorizeClient is non-nil, requires
// and verifies a client certificate via VerifyPeerCertificate instead of
// the stdlib chain builder (which doesn't know about SPIFFE ID
// authorization).
func NewTLSConfig(source *X509Source, authorizeClient func(spiffeid.SpiffeId) error) *tls.Config {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			return svidToTLSCertificate(source)
		},
	}
	if authorizeClient != nil {
		cfg.ClientAuth = tls.RequireAnyClientCert
		cfg.VerifyPeerCertificate = verifyPeerCertificateFunc(source, authorizeClient)
	}
	return cfg
}

// NewMTLSConfig returns a client-side *tls.Config that presents the
// X509Source's current SVID and verifies the server's certificate chain
// against the source's bundles plus a SPIFFE ID authorization check.
func NewMTLSConfig(source *X509Source, authorizeServer func(spiffeid.SpiffeId) error) *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		GetClientCertificate: func(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
			return svidToTLSCertificate(source)
		},
		InsecureSkipVerify:    true, // verification is done in VerifyPeerCertificate below
		VerifyPeerCertificate: verifyPeerCertificateFunc(source, authorizeServer),
	}
}

func svidToTLSCertificate(source *X509Source) (*tls.Certificate, error) {
	svid, err := source.GetX509SVID()
	if err != nil {
		return nil, err
	}

	raw := make([][]byte, len(svid.Certificates))
	for i, cert := range svid.Certificates {
		raw[i] = cert.Raw
	}

	return &tls.Certificate{
		Certificate: raw,
		PrivateKey:  svid.PrivateKey,
		Leaf:        svid.Certificates[0],
	}, nil
}

func verifyPeerCertificateFunc(source *X509Source, authorize func(spiffeid.SpiffeId) error) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		chain := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return werrors.Wrap(werrors.X509SvidParse, "parse peer certificate", err)
			}
			chain = append(chain, cert)
		}

		id, _, err := x509svid.VerifyChain(chain, source)
		if err != nil {
			return err
		}

		if authorize != nil {
			if err := authorize(id); err != nil {
				return err
			}
		}
		return nil
	}
}

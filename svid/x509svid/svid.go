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

// Package x509svid implements the X.509-SVID: a leaf certificate carrying
// exactly one SPIFFE ID, its signing chain, and the private key backing it.
package x509svid

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"os"

	werrors "github.com/spiffe/go-workloadapi/errors"
	"github.com/spiffe/go-workloadapi/spiffeid"
)

// SVID is an X.509-SVID: a leaf certificate and its signing chain, paired
// with the private key matching the leaf's public key.
type SVID struct {
	// ID is the SPIFFE ID extracted from the leaf certificate's single URI
	// SAN.
	ID spiffeid.SpiffeId
	// Certificates is the certificate chain, leaf first.
	Certificates []*x509.Certificate
	// PrivateKey is the private key matching Certificates[0]'s public key.
	PrivateKey crypto.Signer
}

// LoadX509SVID reads cert and key material from disk and parses it as an
// X.509-SVID.
func LoadX509SVID(certPath, keyPath string) (*SVID, error) {
	certBytes, err := os.ReadFile(certPath)
	if err != nil {
		return nil, werrors.Wrap(werrors.X509SvidParse, "unable to read X.509-SVID certificate file", err)
	}
	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, werrors.Wrap(werrors.X509SvidParse, "unable to read X.509-SVID key file", err)
	}
	return ParseRaw(certBytes, keyBytes)
}

// ParseRaw parses an X.509-SVID from a DER or PEM certificate chain
// (leaf first) and a PKCS#8 private key, validating the invariants of
// §4.C: exactly one SPIFFE URI SAN on the leaf, leaf/signing key-usage
// rules, and that the private key mathematically matches the leaf's public
// key.
func ParseRaw(certBytes, keyBytes []byte) (*SVID, error) {
	certs, err := parseCertificates(certBytes)
	if err != nil {
		return nil, werrors.Wrap(werrors.X509SvidParse, "unable to parse X.509-SVID certificate chain", err)
	}
	if len(certs) == 0 {
		return nil, werrors.New(werrors.X509SvidParse, "no certificates found in X.509-SVID chain")
	}

	key, err := parsePrivateKey(keyBytes)
	if err != nil {
		return nil, werrors.Wrap(werrors.X509SvidParse, "unable to parse X.509-SVID private key", err)
	}

	id, err := spiffeIDFromCertificate(certs[0])
	if err != nil {
		return nil, err
	}

	if err := validateLeafCertificate(certs[0]); err != nil {
		return nil, err
	}
	for _, c := range certs[1:] {
		if err := validateSigningCertificate(c); err != nil {
			return nil, err
		}
	}

	if err := verifyKeyMatch(certs[0], key); err != nil {
		return nil, err
	}

	return &SVID{ID: id, Certificates: certs, PrivateKey: key}, nil
}

// spiffeIDFromCertificate extracts the single SPIFFE URI SAN from cert. Zero
// or more than one URI SAN is a parse error.
func spiffeIDFromCertificate(cert *x509.Certificate) (spiffeid.SpiffeId, error) {
	if len(cert.URIs) != 1 {
		return spiffeid.SpiffeId{}, werrors.Errorf(werrors.X509SvidParse, "certificate must have exactly one URI SAN, got %d", len(cert.URIs))
	}
	id, err := spiffeid.Parse(cert.URIs[0].String())
	if err != nil {
		return spiffeid.SpiffeId{}, werrors.Wrap(werrors.X509SvidParse, "certificate URI SAN is not a valid SPIFFE ID", err)
	}
	return id, nil
}

// validateLeafCertificate enforces the leaf certificate invariants: CA
// false, digitalSignature present, keyCertSign and cRLSign absent.
func validateLeafCertificate(cert *x509.Certificate) error {
	if cert.IsCA {
		return werrors.New(werrors.X509SvidParse, "leaf certificate must not be a CA")
	}
	if cert.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
		return werrors.New(werrors.X509SvidParse, "leaf certificate must have the digitalSignature key usage")
	}
	if cert.KeyUsage&x509.KeyUsageCertSign != 0 {
		return werrors.New(werrors.X509SvidParse, "leaf certificate must not have the keyCertSign key usage")
	}
	if cert.KeyUsage&x509.KeyUsageCRLSign != 0 {
		return werrors.New(werrors.X509SvidParse, "leaf certificate must not have the cRLSign key usage")
	}
	return nil
}

// validateSigningCertificate enforces the signing (non-leaf) certificate
// invariants: CA true, keyCertSign present.
func validateSigningCertificate(cert *x509.Certificate) error {
	if !cert.IsCA {
		return werrors.New(werrors.X509SvidParse, "signing certificate must be a CA")
	}
	if cert.KeyUsage&x509.KeyUsageCertSign == 0 {
		return werrors.New(werrors.X509SvidParse, "signing certificate must have the keyCertSign key usage")
	}
	return nil
}

// verifyKeyMatch confirms key mathematically matches leaf's public key by
// signing a fresh random challenge and verifying it, using SHA-512 with the
// algorithm matching the key type.
func verifyKeyMatch(leaf *x509.Certificate, key crypto.Signer) error {
	challenge := make([]byte, 100)
	if _, err := rand.Read(challenge); err != nil {
		return werrors.Wrap(werrors.X509SvidParse, "unable to generate key-match challenge", err)
	}
	digest := sha512.Sum512(challenge)

	switch pub := leaf.PublicKey.(type) {
	case *ecdsa.PublicKey:
		sig, err := key.Sign(rand.Reader, digest[:], crypto.SHA512)
		if err != nil {
			return werrors.Wrap(werrors.X509SvidParse, "private key does not match leaf certificate", err)
		}
		if !ecdsa.VerifyASN1(pub, digest[:], sig) {
			return werrors.New(werrors.X509SvidParse, "private key does not match leaf certificate")
		}
	case *rsa.PublicKey:
		sig, err := key.Sign(rand.Reader, digest[:], crypto.SHA512)
		if err != nil {
			return werrors.Wrap(werrors.X509SvidParse, "private key does not match leaf certificate", err)
		}
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA512, digest[:], sig); err != nil {
			return werrors.Wrap(werrors.X509SvidParse, "private key does not match leaf certificate", err)
		}
	default:
		return werrors.New(werrors.X509SvidParse, "unsupported leaf public key type")
	}
	return nil
}


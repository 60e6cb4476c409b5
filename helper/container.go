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

package helper

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"strconv"
	"time"

	keystore "github.com/pavlo-v-chernykh/keystore-go/v4"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/spiffe/go-workloadapi/bundle/x509bundle"
	werrors "github.com/spiffe/go-workloadapi/errors"
)

// container is the on-disk keystore format the helper writes to, behind one
// interface so the JKS and PKCS#12 backends are interchangeable based on a
// Config's KeyStoreType.
type container interface {
	// encodeKeyStore serializes alias's private key and certificate chain
	// (leaf first) as a password-protected key store.
	encodeKeyStore(alias string, key crypto.PrivateKey, chain []*x509.Certificate, pass string) ([]byte, error)
	// encodeTrustStore serializes every authority of every bundle as a
	// password-protected trust store, one entry per certificate, keyed by
	// <trust-domain>.<index>.
	encodeTrustStore(bundles []*x509bundle.Bundle, pass string) ([]byte, error)
}

func containerFor(t ContainerType) (container, error) {
	switch t {
	case ContainerJKS:
		return jksContainer{}, nil
	case ContainerPKCS12:
		return pkcs12Container{}, nil
	default:
		return nil, werrors.Errorf(werrors.ConfigInvalid, "unsupported keyStoreType %q", t)
	}
}

// jksContainer implements container atop keystore-go/v4's pure-Go JKS
// reader/writer.
type jksContainer struct{}

func (jksContainer) encodeKeyStore(alias string, key crypto.PrivateKey, chain []*x509.Certificate, pass string) ([]byte, error) {
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, werrors.Wrap(werrors.KeystoreWrite, "unable to marshal private key", err)
	}

	certs := make([]keystore.Certificate, 0, len(chain))
	for _, c := range chain {
		certs = append(certs, keystore.Certificate{Type: "X509", Content: c.Raw})
	}

	ks := keystore.New()
	err = ks.SetPrivateKeyEntry(alias, keystore.PrivateKeyEntry{
		CreationTime:     time.Now(),
		PrivateKey:       keyDER,
		CertificateChain: certs,
	}, []byte(pass))
	if err != nil {
		return nil, werrors.Wrap(werrors.KeystoreWrite, "unable to set JKS private key entry", err)
	}

	return storeJKS(ks, pass)
}

func (jksContainer) encodeTrustStore(bundles []*x509bundle.Bundle, pass string) ([]byte, error) {
	ks := keystore.New()
	for _, b := range bundles {
		certs := b.X509Authorities()
		base := b.TrustDomain().String()
		for i, c := range certs {
			entryAlias := aliasFor(base, i, len(certs))
			err := ks.SetTrustedCertificateEntry(entryAlias, keystore.TrustedCertificateEntry{
				CreationTime: time.Now(),
				Certificate:  keystore.Certificate{Type: "X509", Content: c.Raw},
			})
			if err != nil {
				return nil, werrors.Wrap(werrors.KeystoreWrite, "unable to set JKS trusted certificate entry", err)
			}
		}
	}
	return storeJKS(ks, pass)
}

func storeJKS(ks keystore.KeyStore, pass string) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := ks.Store(buf, []byte(pass)); err != nil {
		return nil, werrors.Wrap(werrors.KeystoreWrite, "unable to encode JKS keystore", err)
	}
	return buf.Bytes(), nil
}

// pkcs12Container implements container atop go-pkcs12's PFX encoder.
type pkcs12Container struct{}

// encodeKeyStore does not record alias: go-pkcs12's Encode takes no friendly
// name, so the PKCS#12 output carries the key and chain unaliased.
func (pkcs12Container) encodeKeyStore(alias string, key crypto.PrivateKey, chain []*x509.Certificate, pass string) ([]byte, error) {
	if len(chain) == 0 {
		return nil, werrors.New(werrors.KeystoreWrite, "PKCS#12 key store requires at least a leaf certificate")
	}
	caCerts := chain[1:]
	data, err := pkcs12.Modern.Encode(key, chain[0], caCerts, pass)
	if err != nil {
		return nil, werrors.Wrap(werrors.KeystoreWrite, "unable to encode PKCS#12 keystore", err)
	}
	return data, nil
}

func (pkcs12Container) encodeTrustStore(bundles []*x509bundle.Bundle, pass string) ([]byte, error) {
	var entries []pkcs12.TrustStoreEntry
	for _, b := range bundles {
		certs := b.X509Authorities()
		base := b.TrustDomain().String()
		for i, c := range certs {
			entries = append(entries, pkcs12.TrustStoreEntry{
				Cert:         c,
				FriendlyName: aliasFor(base, i, len(certs)),
			})
		}
	}
	data, err := pkcs12.Modern.EncodeTrustStoreEntries(entries, pass)
	if err != nil {
		return nil, werrors.Wrap(werrors.KeystoreWrite, "unable to encode PKCS#12 trust store", err)
	}
	return data, nil
}

// aliasFor names the trust store entry for the i-th authority (of n total)
// belonging to trust domain base, per spec §4.H: "<trust-domain>.<index>".
func aliasFor(base string, i, _ int) string {
	return base + "." + strconv.Itoa(i)
}

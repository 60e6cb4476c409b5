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
	"context"

	"github.com/spiffe/go-workloadapi/bundle/x509bundle"
	werrors "github.com/spiffe/go-workloadapi/errors"
	"github.com/spiffe/go-workloadapi/internal/atomicfile"
	"github.com/spiffe/go-workloadapi/internal/ctxlock"
	"github.com/spiffe/go-workloadapi/internal/log"
	"github.com/spiffe/go-workloadapi/svid/x509svid"
	"github.com/spiffe/go-workloadapi/workloadapi"
)

// X509Source is the subset of workloadapi.X509Source the Helper consumes,
// so tests can exercise Helper against a fake.
type X509Source interface {
	GetX509SVID() (*x509svid.SVID, error)
	GetX509BundleSet() (*x509bundle.Set, error)
	Subscribe(ctx context.Context, ch chan<- workloadapi.Update)
}

// Helper writes the current X.509 SVID and trust bundle of a source to a
// pair of on-disk keystore files in the format named by Config.KeyStoreType,
// and keeps them in sync as the source rotates.
type Helper struct {
	cfg       *Config
	container container
	log       log.Logger

	keyWriter   *atomicfile.File
	trustWriter *atomicfile.File
	writeLock   *ctxlock.RWMutex
}

// New builds a Helper for cfg. logger may be nil, in which case writes are
// silent.
func New(cfg *Config, logger log.Logger) (*Helper, error) {
	if logger == nil {
		logger = log.Nop()
	}
	c, err := containerFor(cfg.KeyStoreType)
	if err != nil {
		return nil, err
	}
	return &Helper{
		cfg:         cfg,
		container:   c,
		log:         logger,
		keyWriter:   atomicfile.New(cfg.KeyStorePath, logger),
		trustWriter: atomicfile.New(cfg.TrustStorePath, logger),
		writeLock:   ctxlock.New(),
	}, nil
}

// WriteOnce encodes and atomically writes both keystore files from the
// source's current snapshot.
func (h *Helper) WriteOnce(ctx context.Context, src X509Source) error {
	svid, err := src.GetX509SVID()
	if err != nil {
		return werrors.Wrap(werrors.KeystoreWrite, "unable to read current X.509 SVID", err)
	}

	bundles, err := src.GetX509BundleSet()
	if err != nil {
		return werrors.Wrap(werrors.KeystoreWrite, "unable to read trust bundles", err)
	}

	if err := h.writeLock.Lock(ctx); err != nil {
		return err
	}
	defer h.writeLock.Unlock()

	keyData, err := h.container.encodeKeyStore(h.cfg.KeyAlias, svid.PrivateKey, svid.Certificates, h.cfg.KeyPass)
	if err != nil {
		return err
	}
	if err := h.keyWriter.Write(keyData); err != nil {
		return werrors.Wrap(werrors.KeystoreWrite, "unable to write key store", err)
	}

	// Every (trust domain, bundle) pair in the set is written, including
	// any federated bundles beyond the SVID's own trust domain, per
	// the requirement that the truststore mirror the source's full bundle
	// set rather than just the caller's home trust domain.
	trustData, err := h.container.encodeTrustStore(bundles.Bundles(), h.cfg.TrustStorePass)
	if err != nil {
		return err
	}
	if err := h.trustWriter.Write(trustData); err != nil {
		return werrors.Wrap(werrors.KeystoreWrite, "unable to write trust store", err)
	}

	h.log.Infof("wrote keystore files for %s", svid.ID)
	return nil
}

// Run writes the current snapshot once, then keeps writing on every
// subsequent rotation until ctx is done. It is meant to run as one of a
// concurrency.RunnerManager's runners alongside the source's own watch.
func (h *Helper) Run(ctx context.Context, src X509Source) error {
	if err := h.WriteOnce(ctx, src); err != nil {
		return err
	}

	updates := make(chan workloadapi.Update, 1)
	src.Subscribe(ctx, updates)

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-updates:
			if !ok {
				return nil
			}
			if err := h.WriteOnce(ctx, src); err != nil {
				h.log.Errorf("unable to persist rotated identity: %v", err)
			}
		}
	}
}

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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	werrors "github.com/spiffe/go-workloadapi/errors"
	"github.com/spiffe/go-workloadapi/svid/x509svid"
)

func newTestX509Source(t *testing.T, fake *fakeWorkloadAPIServer, initial testSVIDFixture) *X509Source {
	t.Helper()

	addr, dialer, cleanup := startTestServer(t, fake)
	t.Cleanup(cleanup)

	fake.x509Responses <- x509SVIDResponse(t, initial)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	src, err := NewX509Source(ctx, WithClientOptions(WithAddr(addr), WithDialOptions(dialer)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func TestX509SourceRotation(t *testing.T) {
	fake := newFakeWorkloadAPIServer()
	svidA := buildTestSVID(t, "spiffe://example.org/a")
	src := newTestX509Source(t, fake, svidA)

	got, err := src.GetX509SVID()
	require.NoError(t, err)
	assert.Equal(t, svidA.spiffeID, got.ID.String())

	svidB := buildTestSVID(t, "spiffe://example.org/b")
	fake.x509Responses <- x509SVIDResponse(t, svidB)

	require.Eventually(t, func() bool {
		got, err := src.GetX509SVID()
		return err == nil && got.ID.String() == svidB.spiffeID
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, src.Close())

	_, err = src.GetX509SVID()
	require.Error(t, err)
	assert.True(t, werrors.Is(err, werrors.SourceClosed))
}

func TestX509SourcePickerRejectsNil(t *testing.T) {
	fake := newFakeWorkloadAPIServer()
	addr, dialer, cleanup := startTestServer(t, fake)
	t.Cleanup(cleanup)

	fake.x509Responses <- x509SVIDResponse(t, buildTestSVID(t, "spiffe://example.org/a"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := NewX509Source(ctx,
		WithClientOptions(WithAddr(addr), WithDialOptions(dialer)),
		WithDefaultX509SVIDPicker(func([]*x509svid.SVID) *x509svid.SVID { return nil }),
	)
	require.Error(t, err)
}

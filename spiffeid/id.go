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

package spiffeid

import (
	"net/url"
	"strings"

	werrors "github.com/spiffe/go-workloadapi/errors"
)

// SpiffeId is the pair (TrustDomain, path) naming a workload. It serializes
// as "spiffe://<trust-domain><path>". Immutable; compared by value.
type SpiffeId struct {
	td   TrustDomain
	path string
}

// Parse parses s as a SPIFFE ID. The scheme must be exactly "spiffe", and
// there must be no userinfo, port, query, or fragment. Total length (as
// written) must not exceed 2048 octets.
func Parse(s string) (SpiffeId, error) {
	if s == "" {
		return SpiffeId{}, werrors.New(werrors.InvalidSpiffeId, "SPIFFE ID is empty")
	}
	if len(s) > maxIDLength {
		return SpiffeId{}, werrors.Errorf(werrors.InvalidSpiffeId, "SPIFFE ID exceeds maximum length of %d", maxIDLength)
	}

	u, err := url.Parse(s)
	if err != nil {
		return SpiffeId{}, werrors.Wrap(werrors.InvalidSpiffeId, "malformed URI", err)
	}

	if u.Scheme != "spiffe" {
		return SpiffeId{}, werrors.Errorf(werrors.InvalidSpiffeId, "scheme must be %q, got %q", "spiffe", u.Scheme)
	}
	if u.User != nil {
		return SpiffeId{}, werrors.New(werrors.InvalidSpiffeId, "must not contain userinfo")
	}
	if u.Host == "" {
		return SpiffeId{}, werrors.New(werrors.InvalidSpiffeId, "trust domain is empty")
	}
	if u.Port() != "" {
		return SpiffeId{}, werrors.New(werrors.InvalidSpiffeId, "must not contain a port")
	}
	if u.RawQuery != "" {
		return SpiffeId{}, werrors.New(werrors.InvalidSpiffeId, "must not contain a query")
	}
	if u.Fragment != "" {
		return SpiffeId{}, werrors.New(werrors.InvalidSpiffeId, "must not contain a fragment")
	}

	td, err := ParseTrustDomain(u.Host)
	if err != nil {
		return SpiffeId{}, err
	}

	return SpiffeId{td: td, path: normalizePath(u.Path)}, nil
}

// RequireFromString is like Parse, but panics on error.
func RequireFromString(s string) SpiffeId {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Of builds a SpiffeId from a trust domain and zero or more path segments.
// Blank segments are trimmed and dropped; remaining segments are joined with
// "/".
func Of(td TrustDomain, segments ...string) (SpiffeId, error) {
	if td.IsZero() {
		return SpiffeId{}, werrors.New(werrors.InvalidTrustDomain, "trust domain is empty")
	}

	var clean []string
	for _, seg := range segments {
		seg = strings.Trim(seg, "/")
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		clean = append(clean, seg)
	}

	id := SpiffeId{td: td}
	if len(clean) > 0 {
		id.path = "/" + strings.Join(clean, "/")
	}

	if len(id.String()) > maxIDLength {
		return SpiffeId{}, werrors.Errorf(werrors.InvalidSpiffeId, "SPIFFE ID exceeds maximum length of %d", maxIDLength)
	}

	return id, nil
}

// normalizePath ensures a non-empty path is absolute-looking ("/foo"), and
// collapses a bare "/" to "".
func normalizePath(p string) string {
	if p == "" || p == "/" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// TrustDomain returns the trust domain component.
func (id SpiffeId) TrustDomain() TrustDomain {
	return id.td
}

// Path returns the path component, e.g. "/myservice". Empty for a
// trust-domain-only ID.
func (id SpiffeId) Path() string {
	return id.path
}

// IsZero reports whether id is the zero value.
func (id SpiffeId) IsZero() bool {
	return id.td.IsZero() && id.path == ""
}

// MemberOf reports whether id belongs to the given trust domain.
func (id SpiffeId) MemberOf(td TrustDomain) bool {
	return id.td == td
}

// String renders the canonical "spiffe://<trust-domain><path>" form.
func (id SpiffeId) String() string {
	if id.IsZero() {
		return ""
	}
	return id.td.IDString() + id.path
}

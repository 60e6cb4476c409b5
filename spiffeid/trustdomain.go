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

// Package spiffeid implements the SPIFFE trust domain and SPIFFE ID value
// types: parsing, canonicalization, and the syntactic invariants each must
// satisfy.
package spiffeid

import (
	"strings"

	werrors "github.com/spiffe/go-workloadapi/errors"
)

// maxTrustDomainLength is the maximum length, in octets, of a trust domain
// name.
const maxTrustDomainLength = 255

// maxIDLength is the maximum total length, in octets, of a SPIFFE ID.
const maxIDLength = 2048

const schemePrefix = "spiffe://"

// TrustDomain represents the trust domain portion of a SPIFFE ID, e.g. the
// "example.org" in "spiffe://example.org/foo". It is immutable; equality is
// byte-exact after canonicalization.
type TrustDomain struct {
	name string
}

// TrustDomainFromString is an alias for ParseTrustDomain, for readability at call sites
// that already know the input isn't a full SPIFFE ID.
func TrustDomainFromString(s string) (TrustDomain, error) {
	return ParseTrustDomain(s)
}

// ParseTrustDomain parses a trust domain from a bare name ("example.org") or a full
// SPIFFE URI ("spiffe://example.org/foo", in which case only the host part
// is used). It lowercases and trims the input, rejects ports, userinfo,
// query, and fragment, and validates the character set and length.
func ParseTrustDomain(input string) (TrustDomain, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return TrustDomain{}, werrors.New(werrors.InvalidTrustDomain, "trust domain is empty")
	}

	s = strings.ToLower(s)

	if strings.Contains(s, "://") {
		if !strings.HasPrefix(s, schemePrefix) {
			return TrustDomain{}, werrors.Errorf(werrors.InvalidTrustDomain, "scheme is missing or not %q", "spiffe")
		}
		s = strings.TrimPrefix(s, schemePrefix)
		// Only the host portion (everything up to the first '/', '?' or '#')
		// is the trust domain; userinfo, query, and fragment are rejected
		// rather than silently dropped.
		if i := strings.IndexAny(s, "@"); i >= 0 {
			return TrustDomain{}, werrors.New(werrors.InvalidTrustDomain, "trust domain must not contain userinfo")
		}
		if i := strings.IndexAny(s, "?#"); i >= 0 {
			return TrustDomain{}, werrors.New(werrors.InvalidTrustDomain, "trust domain must not contain a query or fragment")
		}
		if i := strings.IndexByte(s, '/'); i >= 0 {
			s = s[:i]
		}
	}

	if strings.Contains(s, ":") {
		return TrustDomain{}, werrors.New(werrors.InvalidTrustDomain, "trust domain must not contain a port")
	}

	if len(s) > maxTrustDomainLength {
		return TrustDomain{}, werrors.Errorf(werrors.InvalidTrustDomain, "trust domain %q exceeds maximum length of %d", s, maxTrustDomainLength)
	}

	if !isValidTrustDomainName(s) {
		return TrustDomain{}, werrors.Errorf(werrors.InvalidTrustDomain, "trust domain %q contains invalid characters", s)
	}

	return TrustDomain{name: s}, nil
}

// RequireTrustDomainFromString is like ParseTrustDomain, but panics on error. Intended
// for tests and package-level literals, never for handling untrusted input.
func RequireTrustDomainFromString(s string) TrustDomain {
	td, err := ParseTrustDomain(s)
	if err != nil {
		panic(err)
	}
	return td
}

func isValidTrustDomainName(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// String returns the bare trust domain name, e.g. "example.org".
func (td TrustDomain) String() string {
	return td.name
}

// Name is an alias for String, matching the noun used in the spec.
func (td TrustDomain) Name() string {
	return td.name
}

// IDString returns the trust domain rendered as a SPIFFE URI with no path,
// e.g. "spiffe://example.org".
func (td TrustDomain) IDString() string {
	if td.IsZero() {
		return ""
	}
	return schemePrefix + td.name
}

// IsZero reports whether td is the zero value.
func (td TrustDomain) IsZero() bool {
	return td.name == ""
}

// Compare returns an integer comparing two trust domains lexicographically.
func (td TrustDomain) Compare(other TrustDomain) int {
	return strings.Compare(td.name, other.name)
}

// MemberOf reports whether the given SPIFFE ID belongs to this trust domain.
func (td TrustDomain) MemberOf(id SpiffeId) bool {
	return td == id.TrustDomain()
}

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

// Package jwtsvid implements the JWT-SVID: a signed JWT whose subject is a
// SPIFFE ID, plus the decode/validate operations described in §4.C.
package jwtsvid

import (
	"context"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/spiffe/go-workloadapi/bundle/jwtbundle"
	werrors "github.com/spiffe/go-workloadapi/errors"
	"github.com/spiffe/go-workloadapi/spiffeid"
)

// SVID is a JWT-SVID: a signed token whose subject is a SPIFFE ID.
type SVID struct {
	// ID is the SPIFFE ID extracted from the token's "sub" claim.
	ID spiffeid.SpiffeId
	// Audience is the token's "aud" claim.
	Audience []string
	// Expiry is the token's "exp" claim.
	Expiry time.Time
	// Claims is the full decoded claim set.
	Claims map[string]interface{}
	// Marshaled is the raw, compact-serialized token string.
	Marshaled string
}

// BundleSource looks up a JWT bundle by trust domain, satisfied directly by
// *jwtbundle.Set.
type BundleSource interface {
	GetJWTBundleForTrustDomain(td spiffeid.TrustDomain) (*jwtbundle.Bundle, bool)
}

// ParseAndValidate decodes token, looks up its "kid" in the bundle
// registered for the trust domain of its subject, verifies the signature,
// and enforces that "exp" is not in the past and that "aud" intersects
// audience. Returns the extracted subject SPIFFE ID along with the rest of
// the SVID fields.
func ParseAndValidate(token string, bundleSource BundleSource, audience []string) (*SVID, error) {
	unverified, err := jwt.Parse([]byte(token), jwt.WithValidate(false), jwt.WithVerify(false))
	if err != nil {
		return nil, werrors.Wrap(werrors.JwtSvidParse, "unable to parse JWT-SVID", err)
	}

	id, err := subjectSpiffeID(unverified)
	if err != nil {
		return nil, err
	}

	bundle, ok := bundleSource.GetJWTBundleForTrustDomain(id.TrustDomain())
	if !ok {
		return nil, werrors.Errorf(werrors.BundleNotFound, "no JWT bundle found for trust domain %q", id.TrustDomain().String())
	}

	kid, err := keyID(token)
	if err != nil {
		return nil, err
	}
	authority, ok := bundle.FindJWTAuthority(kid)
	if !ok {
		return nil, werrors.Errorf(werrors.AuthorityNotFound, "no JWT authority found for key ID %q", kid)
	}

	verified, err := jwt.Parse([]byte(token), jwt.WithVerify(true), jwt.WithKey(algorithmForKey(authority), authority))
	if err != nil {
		return nil, werrors.Wrap(werrors.JwtSvidValidation, "error validating JWT SVID", err)
	}

	if err := validateExpiryAndAudience(verified, audience); err != nil {
		return nil, err
	}

	return toSVID(verified, id, token)
}

// ParseInsecure decodes token and extracts its claims without verifying the
// signature, still enforcing exp/aud. Intended for tokens whose validity has
// already been established by the issuing Workload API.
func ParseInsecure(token string, audience []string) (*SVID, error) {
	unverified, err := jwt.Parse([]byte(token), jwt.WithValidate(false), jwt.WithVerify(false))
	if err != nil {
		return nil, werrors.Wrap(werrors.JwtSvidParse, "unable to parse JWT-SVID", err)
	}

	id, err := subjectSpiffeID(unverified)
	if err != nil {
		return nil, err
	}

	if err := validateExpiryAndAudience(unverified, audience); err != nil {
		return nil, err
	}

	return toSVID(unverified, id, token)
}

func subjectSpiffeID(tok jwt.Token) (spiffeid.SpiffeId, error) {
	sub := tok.Subject()
	if sub == "" {
		return spiffeid.SpiffeId{}, werrors.New(werrors.JwtSvidParse, "token is missing the sub claim")
	}
	id, err := spiffeid.Parse(sub)
	if err != nil {
		return spiffeid.SpiffeId{}, werrors.Wrap(werrors.JwtSvidParse, "token sub claim is not a valid SPIFFE ID", err)
	}
	return id, nil
}

func validateExpiryAndAudience(tok jwt.Token, audience []string) error {
	if tok.Expiration().Before(time.Now()) {
		return werrors.New(werrors.JwtSvidValidation, "error validating JWT SVID: token has expired")
	}

	aud := tok.Audience()
	for _, want := range audience {
		for _, have := range aud {
			if want == have {
				return nil
			}
		}
	}
	return werrors.New(werrors.JwtSvidValidation, "error validating JWT SVID: audience mismatch")
}

func toSVID(tok jwt.Token, id spiffeid.SpiffeId, raw string) (*SVID, error) {
	claims, err := tok.AsMap(context.Background())
	if err != nil {
		return nil, werrors.Wrap(werrors.JwtSvidParse, "unable to extract JWT-SVID claims", err)
	}
	return &SVID{
		ID:        id,
		Audience:  tok.Audience(),
		Expiry:    tok.Expiration(),
		Claims:    claims,
		Marshaled: raw,
	}, nil
}

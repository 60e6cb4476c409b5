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

package jwtsvid

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"

	werrors "github.com/spiffe/go-workloadapi/errors"
)

// keyID extracts the "kid" header from token's first (and only expected)
// signature, without verifying it.
func keyID(token string) (string, error) {
	msg, err := jws.Parse([]byte(token))
	if err != nil {
		return "", werrors.Wrap(werrors.JwtSvidParse, "unable to parse JWT-SVID header", err)
	}
	sigs := msg.Signatures()
	if len(sigs) != 1 {
		return "", werrors.Errorf(werrors.JwtSvidParse, "expected exactly one JWS signature, got %d", len(sigs))
	}
	kid := sigs[0].ProtectedHeaders().KeyID()
	if kid == "" {
		return "", werrors.New(werrors.JwtSvidParse, "token header is missing kid")
	}
	return kid, nil
}

// algorithmForKey selects the JWS signature algorithm matching pub's type.
func algorithmForKey(pub crypto.PublicKey) jwa.SignatureAlgorithm {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		switch k.Params().BitSize {
		case 384:
			return jwa.ES384
		case 521:
			return jwa.ES512
		default:
			return jwa.ES256
		}
	case *rsa.PublicKey:
		return jwa.RS256
	default:
		return jwa.NoSignature
	}
}

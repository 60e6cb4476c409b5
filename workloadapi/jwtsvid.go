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

	"github.com/spiffe/go-spiffe/v2/proto/spiffe/workload"

	werrors "github.com/spiffe/go-workloadapi/errors"
	"github.com/spiffe/go-workloadapi/spiffeid"
	"github.com/spiffe/go-workloadapi/svid/jwtsvid"
)

// JWTSVIDParams are the arguments to FetchJWTSVID: an optional caller
// identity (left to the socket peer when zero) and one or more audiences.
type JWTSVIDParams struct {
	Subject        spiffeid.SpiffeId
	Audience       string
	ExtraAudiences []string
}

func (p JWTSVIDParams) audiences() []string {
	return append([]string{p.Audience}, p.ExtraAudiences...)
}

// FetchJWTSVID fetches a JWT-SVID for the given audiences. Per the decision
// recorded in DESIGN.md, the returned token is parsed without client-side
// signature re-verification: the Workload API is trusted to have minted a
// valid token for the caller's own identity.
func (c *Client) FetchJWTSVID(ctx context.Context, params JWTSVIDParams) (*jwtsvid.SVID, error) {
	if params.Audience == "" {
		return nil, werrors.New(werrors.InvalidArgument, "FetchJWTSVID requires at least one audience")
	}

	ctx, done, err := c.newCall(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	req := &workload.JWTSVIDRequest{Audience: params.audiences()}
	if !params.Subject.IsZero() {
		req.SpiffeId = params.Subject.String()
	}

	resp, err := c.raw.FetchJWTSVID(ctx, req)
	if err != nil {
		return nil, werrors.Wrap(werrors.JwtSvidParse, "fetch JWT-SVID", err)
	}
	if len(resp.GetSvids()) == 0 {
		return nil, werrors.New(werrors.JwtSvidParse, "Workload API response contained no JWT-SVIDs")
	}

	return jwtsvid.ParseInsecure(resp.GetSvids()[0].GetSvid(), params.audiences())
}

// ValidateJWTSVID asks the Workload API to validate token for audience,
// then parses the (now server-validated) token. Unlike FetchJWTSVID, this
// RPC exists specifically to validate a third party's token, so the
// server-side validation result is what's being trusted here, not the
// caller's own identity.
func (c *Client) ValidateJWTSVID(ctx context.Context, token, audience string) (*jwtsvid.SVID, error) {
	ctx, done, err := c.newCall(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	_, err = c.raw.ValidateJWTSVID(ctx, &workload.ValidateJWTSVIDRequest{
		Svid:     token,
		Audience: audience,
	})
	if err != nil {
		return nil, werrors.Wrap(werrors.JwtSvidValidation, "Error validating JWT SVID", err)
	}

	return jwtsvid.ParseInsecure(token, []string{audience})
}

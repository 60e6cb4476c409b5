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

// Package errors implements the error taxonomy surfaced by this module's
// public API. Every failure mode in the spec's error-kind table maps to
// exactly one Kind below; callers use errors.Is/As or GetKind to branch on
// the cause rather than string-matching messages.
package errors

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a failure.
type Kind int

const (
	// InvalidSpiffeId means a SPIFFE ID string failed to parse or validate.
	InvalidSpiffeId Kind = iota
	// InvalidTrustDomain means a trust domain string failed to parse or validate.
	InvalidTrustDomain
	// BundleParse means an X.509 or JWT bundle failed to decode.
	BundleParse
	// UnsupportedKeyType means a JWKS key used an algorithm other than EC or RSA.
	UnsupportedKeyType
	// EmptyKeyId means a JWKS key was missing its "kid".
	EmptyKeyId
	// BundleNotFound means no bundle was registered for a trust domain.
	BundleNotFound
	// AuthorityNotFound means no JWT authority matched a token's key ID.
	AuthorityNotFound
	// X509SvidParse means an X.509 SVID's certificate chain or key failed to
	// parse, or failed one of the leaf/signing-certificate invariants.
	X509SvidParse
	// JwtSvidParse means a JWT-SVID token failed to decode.
	JwtSvidParse
	// JwtSvidValidation means a JWT-SVID failed signature, audience, or
	// expiry validation.
	JwtSvidValidation
	// X509ContextFetch means the FetchX509SVID/WatchX509Context RPC failed.
	X509ContextFetch
	// JwtBundleFetch means the FetchJWTBundles/WatchJWTBundles RPC failed.
	JwtBundleFetch
	// SocketEndpointAddress means the Workload API endpoint address was
	// malformed or used an unsupported scheme.
	SocketEndpointAddress
	// SourceInitialization means X509Source/JwtSource construction failed or
	// timed out before the first update arrived.
	SourceInitialization
	// SourceClosed means an operation was attempted on a closed source.
	SourceClosed
	// ClientClosed means an operation was attempted on a closed client.
	ClientClosed
	// WatcherError wraps the terminal error delivered to a Watcher's OnError.
	WatcherError
	// InvalidArgument means a required argument was nil, empty, or otherwise
	// failed a precondition check, independent of the kinds above.
	InvalidArgument
	// ConfigInvalid means a helper properties file was missing a required
	// key, named an unsupported keyStoreType, or otherwise failed to decode.
	ConfigInvalid
	// KeystoreWrite means writing or encoding a JKS/PKCS#12 keystore
	// container failed.
	KeystoreWrite
)

func (k Kind) String() string {
	switch k {
	case InvalidSpiffeId:
		return "InvalidSpiffeId"
	case InvalidTrustDomain:
		return "InvalidTrustDomain"
	case BundleParse:
		return "BundleParse"
	case UnsupportedKeyType:
		return "UnsupportedKeyType"
	case EmptyKeyId:
		return "EmptyKeyId"
	case BundleNotFound:
		return "BundleNotFound"
	case AuthorityNotFound:
		return "AuthorityNotFound"
	case X509SvidParse:
		return "X509SvidParse"
	case JwtSvidParse:
		return "JwtSvidParse"
	case JwtSvidValidation:
		return "JwtSvidValidation"
	case X509ContextFetch:
		return "X509ContextFetch"
	case JwtBundleFetch:
		return "JwtBundleFetch"
	case SocketEndpointAddress:
		return "SocketEndpointAddress"
	case SourceInitialization:
		return "SourceInitialization"
	case SourceClosed:
		return "SourceClosed"
	case ClientClosed:
		return "ClientClosed"
	case WatcherError:
		return "WatcherError"
	case InvalidArgument:
		return "InvalidArgument"
	case ConfigInvalid:
		return "ConfigInvalid"
	case KeystoreWrite:
		return "KeystoreWrite"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned across this module's public
// surface. It always carries a Kind so callers can branch with Is/GetKind, a
// human-readable Message, and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New creates an Error of the given kind with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Errorf creates an Error of the given kind, formatting the message. If the
// last argument is an error it is also kept as the wrapped cause, so %w-style
// wrapping works without a separate Wrap call.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	e := &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
	if len(args) > 0 {
		if cause, ok := args[len(args)-1].(error); ok {
			e.Cause = cause
		}
	}
	return e
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, enabling
// stdlib errors.Is(err, &Error{Kind: ...}) comparisons.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// GetKind extracts the Kind from err, returning ok=false if err is not (and
// does not wrap) an *Error.
func GetKind(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

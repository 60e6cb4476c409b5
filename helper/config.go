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

// Package helper persists a rotating X.509 identity from an
// workloadapi.X509Source into on-disk JKS or PKCS#12 keystore files, the way
// a Java process that cannot itself speak the Workload API would need it on
// disk.
package helper

import (
	"github.com/magiconair/properties"

	werrors "github.com/spiffe/go-workloadapi/errors"
	"github.com/spiffe/go-workloadapi/metadata"
)

// ContainerType selects the on-disk keystore container format.
type ContainerType string

const (
	ContainerJKS    ContainerType = "jks"
	ContainerPKCS12 ContainerType = "pkcs12"
)

// Config is the decoded shape of a helper properties file. Field names
// match the spec's required keys verbatim via mapstructure tags, since the
// properties file is the user-facing contract and isn't ours to rename.
type Config struct {
	KeyStorePath     string        `mapstructure:"keyStorePath"`
	KeyStorePass     string        `mapstructure:"keyStorePass"`
	KeyPass          string        `mapstructure:"keyPass"`
	TrustStorePath   string        `mapstructure:"trustStorePath"`
	TrustStorePass   string        `mapstructure:"trustStorePass"`
	KeyStoreType     ContainerType `mapstructure:"keyStoreType"`
	KeyAlias         string        `mapstructure:"keyAlias"`
	SpiffeSocketPath string        `mapstructure:"spiffeSocketPath"`
}

// requiredKeys lists every properties key that must be present and
// non-empty, in the order the spec's CLI surface names them.
var requiredKeys = []string{
	"keyStorePath",
	"keyStorePass",
	"keyPass",
	"trustStorePath",
	"trustStorePass",
	"keyStoreType",
	"keyAlias",
	"spiffeSocketPath",
}

// LoadConfig reads and decodes a properties file at path into a Config,
// failing with ConfigInvalid if a required key is missing or keyStoreType
// names an unsupported container.
func LoadConfig(path string) (*Config, error) {
	props, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return nil, werrors.Wrap(werrors.ConfigInvalid, "unable to read properties file "+path, err)
	}
	return decodeConfig(props.Map())
}

// decodeConfig decodes a flat properties map into a Config via
// metadata.Properties, the same map[string]string -> struct idiom
// DecodeMetadata uses for component metadata, trimmed of dapr-specific
// aliasing.
func decodeConfig(props map[string]string) (*Config, error) {
	p := metadata.Properties(props)

	for _, key := range requiredKeys {
		if val, ok := p.GetProperty(key); !ok || val == "" {
			return nil, werrors.Errorf(werrors.ConfigInvalid, "missing required property %q", key)
		}
	}

	cfg := &Config{}
	if err := p.Decode(cfg); err != nil {
		return nil, werrors.Wrap(werrors.ConfigInvalid, "unable to decode properties", err)
	}

	switch cfg.KeyStoreType {
	case ContainerJKS, ContainerPKCS12:
	default:
		return nil, werrors.Errorf(werrors.ConfigInvalid, "unsupported keyStoreType %q (want jks or pkcs12)", cfg.KeyStoreType)
	}

	if cfg.KeyStorePath == cfg.TrustStorePath {
		return nil, werrors.Errorf(werrors.ConfigInvalid, "keyStorePath and trustStorePath must not be the same file (%q)", cfg.KeyStorePath)
	}

	return cfg, nil
}

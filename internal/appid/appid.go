// Package appid holds the application identity used for config discovery,
// environment prefixes and telemetry namespaces.
package appid

import "strings"

const (
	BinaryName = "homedash"
	ConfigName = "homedash"
	EnvPrefix  = "HOMEDASH_"
	Namespace  = "homedash"
)

// Identity mirrors the fields callers read when locating config and data.
type Identity struct {
	BinaryName string
	ConfigName string
	EnvPrefix  string
	Namespace  string
}

// Get returns the compiled-in identity. An override of the env prefix may be
// supplied through HOMEDASH_ENV_PREFIX for side-by-side installs.
func Get(lookup func(string) string) Identity {
	identity := Identity{
		BinaryName: BinaryName,
		ConfigName: ConfigName,
		EnvPrefix:  EnvPrefix,
		Namespace:  Namespace,
	}
	if lookup == nil {
		return identity
	}
	if prefix := strings.TrimSpace(lookup(EnvPrefix + "ENV_PREFIX")); prefix != "" {
		if !strings.HasSuffix(prefix, "_") {
			prefix += "_"
		}
		identity.EnvPrefix = strings.ToUpper(prefix)
	}
	return identity
}

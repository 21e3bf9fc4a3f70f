// Package config loads the legacy proxy configuration from a YAML file and
// environment variables.
//
// The file is named config.yaml and searched in ./config and the working
// directory. Every key can be overridden from the environment by upper-casing
// it and replacing dots with underscores, e.g. upstream.base_url becomes
// UPSTREAM_BASE_URL. Durations are strings accepted by time.ParseDuration.
package config

// Package config loads runtime configuration for the broadcaster binary:
// store connection parameters, the special UDP feed, and the ambient
// logging/metrics settings (§6.4). It binds a viper instance to an
// mapstructure-tagged Config struct, accepting an optional YAML file plus
// environment variable overrides, and fills in the same defaults the
// process would otherwise hardcode.
package config

// Package config loads, validates, and hot-reloads the Polaris
// configuration.
//
// # Loading
//
// Configuration comes from a YAML file, optionally overridden by
// environment variables:
//
//	cfg, err := config.Load("polaris.yaml")
//	cfg, err := config.LoadWithEnvOverrides("polaris.yaml")
//
// Decoding is strict: a document with unknown fields is rejected rather
// than silently ignored, so a typoed section name fails fast at startup.
//
// # Environment variable overrides
//
// Environment variables follow the naming convention
// POLARIS_SECTION_FIELD. For example:
//
//   - POLARIS_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - POLARIS_STORE_BACKEND overrides store.backend
//   - POLARIS_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// Environment variables always take precedence over file values. Values
// are applied in the order defaults, file, environment, then the result
// is validated; loading fails fast when the final configuration is
// invalid.
//
// # Validation
//
// Validation collects every violation before reporting:
//
//	configuration validation failed with 2 errors:
//	  - keys[0].provider: provider is required
//	  - cost.budgets[0].limit: must be a decimal string
//
// # Hot reload
//
// A Watcher observes the configuration file and reloads it on change,
// debouncing editor write bursts. A reload that fails validation keeps
// the running configuration and emits a configuration_rollback audit
// event; successful reloads are recorded in a History of the last ten
// validated snapshots, which supports explicit rollback through the
// management API.
//
// Key material referenced via material_env and the envelope master
// secret are resolved at wiring time by the secrets providers, not by
// this package; a Config value therefore never holds decrypted secrets
// beyond what the file itself contains.
package config

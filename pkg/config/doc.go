// Package config loads application configuration. Defaults are overlaid
// by an optional YAML file (ESTATELOOP_CONFIG_FILE) and then by
// ESTATELOOP_* environment variables, so container deployments can ship
// a base file and override per-environment with env vars.
package config

// Package config loads and validates Doorman Core configuration.
//
// Configuration comes from three layers, each overriding the last:
//
//  1. Hardcoded defaults (defaultConfig)
//  2. A YAML file (configs/config.yaml by default)
//  3. DOORMAN_* environment variables
//
// Validation runs after all layers are applied; a configuration that
// fails validation never reaches the rest of the application. Secrets
// (JWT signing key, MQTT credentials, InfluxDB token) should be supplied
// via environment variables rather than committed to the YAML file.
package config

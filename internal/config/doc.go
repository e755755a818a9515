// Package config provides configuration loading and validation for the capture
// service. Files are YAML, unmarshalled over Default(), and every section
// validates its own fields. Durations are stored as seconds with Get helpers.
package config

// Package config manages user-level settings stored at ~/.keepup/config.yaml.
// It provides functions to load, read, and write configuration keys such as
// the worker concurrency, staging directory, default backup retention, and
// the GitHub API token used by release lookups.
package config

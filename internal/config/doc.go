// Package config handles configuration loading, parsing, and validation
// from environment variables and optional config files. It provides
// type-safe access to the task manager's tunables (queue ceiling, default
// timeout, limiter overrides) while keeping configuration details separate
// from the manager itself.
package config

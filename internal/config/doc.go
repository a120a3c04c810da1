// Package config loads the experiment configuration: ring membership,
// per-node tick rates, duration, action weights and log destination.
package config

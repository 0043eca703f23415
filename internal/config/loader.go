package config

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// LoadOptions decodes the Endpoint Manager options schema from r on top of
// [DefaultEndpointManagerOptions], so an absent key keeps its default,
// rejects unknown keys, replaces an explicit zero on fields whose documented
// minimum is greater than zero with the default, and validates the result.
//
// Useful both for reading options from a YAML document and, in tests, from
// string literals.
func LoadOptions(r io.Reader) (EndpointManagerOptions, error) {
	opts := DefaultEndpointManagerOptions()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&opts); err != nil {
		return EndpointManagerOptions{}, fmt.Errorf("config: decode options yaml: %w", err)
	}
	opts = applyDefaults(opts)
	if err := ValidateOptions(opts); err != nil {
		return EndpointManagerOptions{}, err
	}
	return opts, nil
}

// applyDefaults fills zero-valued fields whose documented minimum exceeds
// zero with [DefaultEndpointManagerOptions]. MaxReconnectAttempts,
// ServiceAddedDelayMs, ServiceRemovedDelayMs, and BatchAddedDelayMs all have
// a documented minimum of 0, so a decoded zero on those fields is itself a
// legitimate explicit value and is left as decoded rather than silently
// promoted to its documented default.
func applyDefaults(opts EndpointManagerOptions) EndpointManagerOptions {
	d := DefaultEndpointManagerOptions()
	if opts.ReconnectIntervalMs == 0 {
		opts.ReconnectIntervalMs = d.ReconnectIntervalMs
	}
	if opts.ConnectionTimeoutMs == 0 {
		opts.ConnectionTimeoutMs = d.ConnectionTimeoutMs
	}
	return opts
}

// ValidateOptions checks that opts satisfies the options schema's minimums,
// returning a joined error listing every violation found.
func ValidateOptions(opts EndpointManagerOptions) error {
	var errs []error

	if opts.ReconnectIntervalMs < 100 {
		errs = append(errs, fmt.Errorf("reconnectInterval %d is below the minimum of 100", opts.ReconnectIntervalMs))
	}
	if opts.MaxReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("maxReconnectAttempts %d is below the minimum of 0", opts.MaxReconnectAttempts))
	}
	if opts.ConnectionTimeoutMs < 1000 {
		errs = append(errs, fmt.Errorf("connectionTimeout %d is below the minimum of 1000", opts.ConnectionTimeoutMs))
	}
	if opts.ServiceAddedDelayMs < 0 {
		errs = append(errs, fmt.Errorf("serviceAddedDelayMs %d is below the minimum of 0", opts.ServiceAddedDelayMs))
	}
	if opts.ServiceRemovedDelayMs < 0 {
		errs = append(errs, fmt.Errorf("serviceRemovedDelayMs %d is below the minimum of 0", opts.ServiceRemovedDelayMs))
	}
	if opts.BatchAddedDelayMs < 0 {
		errs = append(errs, fmt.Errorf("batchAddedDelayMs %d is below the minimum of 0", opts.BatchAddedDelayMs))
	}

	return errors.Join(errs...)
}

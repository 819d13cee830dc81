package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks the config for invalid values and returns all errors found.
// Dangerous zero-values are clamped to safe defaults; other validation errors
// are logged as warnings but do not prevent startup.
func (c *Config) Validate() []error {
	var errs []error

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	if c.NotifyWebhookURL != "" {
		u, err := url.Parse(c.NotifyWebhookURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("notify_webhook_url %q is not a valid URL: %w", c.NotifyWebhookURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("notify_webhook_url scheme must be http or https, got %q", u.Scheme))
		}
	}

	if c.ReconcileWindowRows < 100 {
		errs = append(errs, fmt.Errorf("reconcile_window_rows %d is below minimum 100, clamping", c.ReconcileWindowRows))
		c.ReconcileWindowRows = 100
	} else if c.ReconcileWindowRows > 100000 {
		errs = append(errs, fmt.Errorf("reconcile_window_rows %d exceeds maximum 100000, clamping", c.ReconcileWindowRows))
		c.ReconcileWindowRows = 100000
	}

	if c.EventQueryLimit < 1 {
		errs = append(errs, fmt.Errorf("event_query_limit %d is below minimum 1, clamping", c.EventQueryLimit))
		c.EventQueryLimit = 1
	} else if c.EventQueryLimit > 1000 {
		errs = append(errs, fmt.Errorf("event_query_limit %d exceeds maximum 1000, clamping", c.EventQueryLimit))
		c.EventQueryLimit = 1000
	}

	if c.NotifyIntervalSeconds < 5 {
		errs = append(errs, fmt.Errorf("notify_interval_seconds %d is below minimum 5, clamping", c.NotifyIntervalSeconds))
		c.NotifyIntervalSeconds = 5
	} else if c.NotifyIntervalSeconds > 3600 {
		errs = append(errs, fmt.Errorf("notify_interval_seconds %d exceeds maximum 3600, clamping", c.NotifyIntervalSeconds))
		c.NotifyIntervalSeconds = 3600
	}

	if c.NotifyWorkers < 1 {
		errs = append(errs, fmt.Errorf("notify_workers %d is below minimum 1, clamping", c.NotifyWorkers))
		c.NotifyWorkers = 1
	} else if c.NotifyWorkers > 64 {
		errs = append(errs, fmt.Errorf("notify_workers %d exceeds maximum 64, clamping", c.NotifyWorkers))
		c.NotifyWorkers = 64
	}

	if c.NotifyQueueSize < 1 {
		errs = append(errs, fmt.Errorf("notify_queue_size %d is below minimum 1, clamping", c.NotifyQueueSize))
		c.NotifyQueueSize = 1
	}

	if c.MaxBatchEntries < 1 {
		errs = append(errs, fmt.Errorf("max_batch_entries %d is below minimum 1, clamping", c.MaxBatchEntries))
		c.MaxBatchEntries = 1
	}

	for _, rule := range c.IgnoreRules {
		if !strings.Contains(rule, ":") {
			errs = append(errs, fmt.Errorf("ignore rule %q must be facet:pattern", rule))
		}
	}

	// Log validation errors as warnings
	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}

	return errs
}

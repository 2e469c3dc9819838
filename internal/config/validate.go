// Keeper - Square POS Business Intelligence for Small Merchants
// Copyright 2026 raydawg88
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/raydawg88/keeper

package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for structural validity plus the
// cross-field rules the struct tags cannot express. It returns the first
// error encountered so startup fails with a single actionable message.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return err
	}

	checks := []func() error{
		c.validatePriorityClasses,
		c.validateThresholds,
		c.validatePagination,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// validatePriorityClasses enforces the retry-aggressiveness ordering:
// a higher priority class never has a smaller retry budget or a slower
// first retry than a lower one.
func (c *Config) validatePriorityClasses() error {
	classes := []struct {
		name string
		cfg  PriorityClassConfig
	}{
		{"critical", c.Resilience.Critical},
		{"high", c.Resilience.High},
		{"normal", c.Resilience.Normal},
		{"low", c.Resilience.Low},
	}

	for _, class := range classes {
		if class.cfg.MaxDelay > 0 && class.cfg.BaseDelay > class.cfg.MaxDelay {
			return fmt.Errorf("resilience.%s: base_delay %v exceeds max_delay %v",
				class.name, class.cfg.BaseDelay, class.cfg.MaxDelay)
		}
	}

	for i := 1; i < len(classes); i++ {
		higher, lower := classes[i-1], classes[i]
		if higher.cfg.MaxRetries < lower.cfg.MaxRetries {
			return fmt.Errorf("resilience.%s: max_retries %d exceeds higher-priority %s (%d)",
				lower.name, lower.cfg.MaxRetries, higher.name, higher.cfg.MaxRetries)
		}
		if higher.cfg.BaseDelay > lower.cfg.BaseDelay {
			return fmt.Errorf("resilience.%s: base_delay %v is shorter than higher-priority %s (%v)",
				lower.name, lower.cfg.BaseDelay, higher.name, higher.cfg.BaseDelay)
		}
	}
	return nil
}

func (c *Config) validateThresholds() error {
	m := c.Matching
	if !(m.MinConfidence <= m.MediumConfidence && m.MediumConfidence <= m.HighConfidence) {
		return fmt.Errorf("matching: confidence thresholds must be ordered min <= medium <= high (got %v, %v, %v)",
			m.MinConfidence, m.MediumConfidence, m.HighConfidence)
	}
	return nil
}

func (c *Config) validatePagination() error {
	if c.API.DefaultPageSize > c.API.MaxPageSize {
		return fmt.Errorf("api: default_page_size %d exceeds max_page_size %d",
			c.API.DefaultPageSize, c.API.MaxPageSize)
	}
	return nil
}

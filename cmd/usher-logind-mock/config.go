// Copyright 2026 The Usher Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config describes the world the mock presents: one session and the
// devices logind would arbitrate for it.
type Config struct {
	Session SessionConfig  `yaml:"session"`
	Devices []DeviceConfig `yaml:"devices"`
}

// SessionConfig is the mock session's identity.
type SessionConfig struct {
	ID     string `yaml:"id"`
	Seat   string `yaml:"seat"`
	VT     int    `yaml:"vt"`
	Active bool   `yaml:"active"`
	Type   string `yaml:"type"`
	User   string `yaml:"user"`
	UID    uint32 `yaml:"uid"`
}

// DeviceConfig is one leasable device in the mock's table.
type DeviceConfig struct {
	Path  string `yaml:"path"`
	Major uint32 `yaml:"major"`
	Minor uint32 `yaml:"minor"`
}

// DefaultConfig is the world the mock presents when no config file is
// given: an active wayland session on seat0 VT 1, with one DRM card
// and one input device.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			ID:     "1",
			Seat:   "seat0",
			VT:     1,
			Active: true,
			Type:   "wayland",
			User:   "demo",
			UID:    1000,
		},
		Devices: []DeviceConfig{
			{Path: "/dev/dri/card0", Major: 226, Minor: 0},
			{Path: "/dev/input/event0", Major: 13, Minor: 64},
		},
	}
}

// LoadConfig reads and validates a YAML config file. An empty path
// yields [DefaultConfig].
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return config, nil
}

// Validate checks the invariants the export layer relies on.
func (c Config) Validate() error {
	if c.Session.ID == "" {
		return fmt.Errorf("session.id must not be empty")
	}
	if c.Session.Seat == "" {
		return fmt.Errorf("session.seat must not be empty")
	}
	if c.Session.VT <= 0 {
		return fmt.Errorf("session.vt must be positive, got %d", c.Session.VT)
	}

	seen := make(map[deviceKey]string)
	for _, device := range c.Devices {
		if device.Path == "" {
			return fmt.Errorf("device %d:%d has no path", device.Major, device.Minor)
		}
		key := deviceKey{device.Major, device.Minor}
		if previous, ok := seen[key]; ok {
			return fmt.Errorf("devices %s and %s share major:minor %d:%d",
				previous, device.Path, device.Major, device.Minor)
		}
		seen[key] = device.Path
	}
	return nil
}

package main

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/studiokoppel/onair/dispatcher"
	"github.com/studiokoppel/onair/symnet"
)

// Endpoint is one UDP address in the configuration file.
type Endpoint struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// SelectorConfig describes the source selector control on the DSP.
type SelectorConfig struct {
	Controller int `yaml:"controller"`
	Positions  int `yaml:"positions"`
}

// StudioConfig couples a studio name with its selector position.
type StudioConfig struct {
	Name     string `yaml:"name"`
	Selector int    `yaml:"selector"`
}

type config struct {
	Local    Endpoint       `yaml:"local"`
	Remote   Endpoint       `yaml:"remote"`
	Selector SelectorConfig `yaml:"selector"`
	Automat  int            `yaml:"automat"`
	Studios  []StudioConfig `yaml:"studios"`

	ImmediateStateSeconds   int    `yaml:"immediate_state_seconds"`
	ImmediateReleaseSeconds int    `yaml:"immediate_release_seconds"`
	StateFile               string `yaml:"state_file"`
}

func loadConfig(fn string) (*config, error) {
	data, err := os.ReadFile(fn)
	if err != nil {
		return nil, err
	}
	c := &config{
		ImmediateStateSeconds:   300,
		ImmediateReleaseSeconds: 30,
		StateFile:               "state.json",
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", fn, err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	return c, nil
}

func (c *config) validate() error {
	if c.Selector.Controller < 1 || c.Selector.Controller > symnet.MaxControllerNumber {
		return fmt.Errorf("selector controller %d out of range [1, %d]",
			c.Selector.Controller, symnet.MaxControllerNumber)
	}
	if c.Selector.Positions < 2 {
		return fmt.Errorf("selector needs at least 2 positions, got %d", c.Selector.Positions)
	}
	if c.Automat < 1 || c.Automat > c.Selector.Positions {
		return fmt.Errorf("automat position %d out of range [1, %d]", c.Automat, c.Selector.Positions)
	}
	if len(c.Studios) == 0 {
		return fmt.Errorf("no studios configured")
	}
	seenNames := make(map[string]bool)
	seenValues := map[int]bool{c.Automat: true}
	for _, s := range c.Studios {
		if s.Name == "" {
			return fmt.Errorf("studio without a name")
		}
		if s.Name == dispatcher.AutomatName {
			return fmt.Errorf("studio may not use the reserved name %q", dispatcher.AutomatName)
		}
		if seenNames[s.Name] {
			return fmt.Errorf("duplicate studio name %q", s.Name)
		}
		seenNames[s.Name] = true
		if s.Selector < 1 || s.Selector > c.Selector.Positions {
			return fmt.Errorf("studio %s: position %d out of range [1, %d]", s.Name, s.Selector, c.Selector.Positions)
		}
		if seenValues[s.Selector] {
			return fmt.Errorf("studio %s: position %d assigned twice", s.Name, s.Selector)
		}
		seenValues[s.Selector] = true
	}
	if c.ImmediateStateSeconds <= 0 || c.ImmediateReleaseSeconds <= 0 {
		return fmt.Errorf("timer durations must be positive")
	}
	return nil
}

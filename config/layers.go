// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"reflect"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Layer is one YAML document of a layered configuration. Source names the
// document in error messages, usually the file it was read from.
type Layer struct {
	Source string
	Data   []byte
}

// MergeLayers applies layers in order on top of base, DefaultConfig when
// base is nil. A field a layer leaves out keeps the value from below it.
// Every broken layer is reported. The result is sanitized, not validated.
func MergeLayers(base *Config, layers ...Layer) (*Config, error) {
	if base == nil {
		base = DefaultConfig()
	}

	var errs []error
	for _, l := range layers {
		overlay := &Config{}
		if err := yaml.Unmarshal(l.Data, overlay); err != nil {
			errs = append(errs, fmt.Errorf("%s: failed to parse YAML: %w", l.Source, err))
			continue
		}
		if err := mergo.Merge(base, overlay, mergo.WithOverride, mergo.WithTransformers(explicitBools{})); err != nil {
			errs = append(errs, fmt.Errorf("%s: failed to merge: %w", l.Source, err))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	base.sanitize()
	return base, nil
}

// explicitBools makes a domain or exporter switch set in a later layer win
// even when it turns the switch off; mergo skips zero values otherwise
type explicitBools struct{}

func (explicitBools) Transformer(typ reflect.Type) func(dst, src reflect.Value) error {
	if typ != reflect.TypeFor[*bool]() {
		return nil
	}
	return func(dst, src reflect.Value) error {
		if !src.IsNil() && dst.CanSet() {
			dst.Set(src)
		}
		return nil
	}
}

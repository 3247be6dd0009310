package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/standardbeagle/overrider/internal/overrider"
)

// ReadFile loads an override set from a .json, .yaml or .yml file. Besides
// a bare override map it accepts a save-overrides dump and a stored Record.
func ReadFile(path string) (overrider.OverrideSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return overrider.OverrideSet{}, fmt.Errorf("read overrides: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return overrider.OverrideSet{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return overrider.OverrideSet{}, fmt.Errorf("convert %s: %w", filepath.Base(path), err)
		}
	}

	set, err := ParseOverrides(data)
	if err != nil {
		return overrider.OverrideSet{}, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return set, nil
}

// ParseOverrides decodes JSON in any of the shapes ReadFile accepts.
func ParseOverrides(data []byte) (overrider.OverrideSet, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return overrider.OverrideSet{}, err
	}

	if raw, ok := probe["overrides"]; ok {
		if _, isRecord := probe["scope"]; isRecord {
			data = raw
		}
	}

	if looksLikeDump(data) {
		var d overrider.Dump
		if err := json.Unmarshal(data, &d); err != nil {
			return overrider.OverrideSet{}, err
		}
		return d.Overrides(), nil
	}

	var set overrider.OverrideSet
	if err := json.Unmarshal(data, &set); err != nil {
		return overrider.OverrideSet{}, err
	}
	return set, nil
}

// looksLikeDump reports whether any node entry carries NodeData's
// isModified flag.
func looksLikeDump(data []byte) bool {
	var nodes map[string]json.RawMessage
	if err := json.Unmarshal(data, &nodes); err != nil {
		return false
	}
	for key, raw := range nodes {
		if key == overrider.GlobalCSSKey {
			continue
		}
		var probe struct {
			IsModified *bool `json:"isModified"`
		}
		if json.Unmarshal(raw, &probe) == nil && probe.IsModified != nil {
			return true
		}
	}
	return false
}

// WriteFile stores set as indented JSON, or YAML when path ends in .yaml/.yml.
func WriteFile(path string, set overrider.OverrideSet) error {
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal overrides: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		if data, err = yaml.Marshal(doc); err != nil {
			return fmt.Errorf("marshal overrides: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write overrides: %w", err)
	}
	return nil
}

// Package config loads per-binary YAML files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadEnv reads KEY=VALUE pairs from files into the process environment
// without overriding variables that are already set. Missing files are
// skipped; with no arguments ".env" is tried.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %s failed: %w", file, err)
		}
	}
	return nil
}

// LoadYAML reads path, expands ${VAR} references from the environment and
// decodes the result into out.
func LoadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDefinition reads one agent definition file:
//
//	name: Translator
//	capabilities: [0, 4]
//	model: gpt-4o
//	creator: acme
func LoadDefinition(path string) (RegisterOptions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RegisterOptions{}, fmt.Errorf("read agent definition: %w", err)
	}
	var opts RegisterOptions
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return RegisterOptions{}, fmt.Errorf("parse agent definition %s: %w", path, err)
	}
	if opts.Name == "" {
		base := filepath.Base(path)
		opts.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return opts, nil
}

// LoadDefinitions loads every .yaml/.yml file in dir. Unreadable files are
// logged and skipped; a missing directory yields no definitions.
func LoadDefinitions(dir string, logger *slog.Logger) ([]RegisterOptions, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("agent definitions directory does not exist, skipping", "dir", dir)
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read agents dir: %w", err)
	}

	var defs []RegisterOptions
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		path := filepath.Join(dir, name)
		opts, err := LoadDefinition(path)
		if err != nil {
			logger.Warn("cannot load agent definition", "path", path, "err", err)
			continue
		}
		logger.Info("loaded agent definition", "name", opts.Name, "path", path)
		defs = append(defs, opts)
	}
	return defs, nil
}

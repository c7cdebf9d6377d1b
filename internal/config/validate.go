package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/flemzord/hafiza/internal/core"
)

// Validate checks the structural validity of a Config: the version, that
// every module ID is registered, that exactly one embedder and the SQLite
// store are configured, and the memory and log settings.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if strings.TrimSpace(cfg.UserID) == "" {
		errs = append(errs, errors.New("config: user_id must not be blank"))
	}

	if len(cfg.Modules) == 0 {
		errs = append(errs, errors.New("config: at least one module must be configured"))
	}

	var embedders []string
	for _, id := range Resolve(cfg) {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
		}
		if strings.HasPrefix(id, EmbedderPrefix) {
			embedders = append(embedders, id)
		}
	}
	switch {
	case len(cfg.Modules) == 0:
	case len(embedders) == 0:
		errs = append(errs, errors.New("config: exactly one embedder module is required, got none"))
	case len(embedders) > 1:
		errs = append(errs, fmt.Errorf("config: exactly one embedder module is required, got %v", embedders))
	}
	if _, ok := cfg.Modules[StoreModule]; len(cfg.Modules) > 0 && !ok {
		errs = append(errs, fmt.Errorf("config: module %q is required", StoreModule))
	}

	if err := cfg.Memory.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("config: memory: %w", err))
	}
	if cfg.Memory.Cache.MaxBytes < 0 || cfg.Memory.Cache.MaxEntries < 0 {
		errs = append(errs, errors.New("config: memory.cache sizes must not be negative"))
	}

	if f := cfg.Log.Format; f != "" && !slices.Contains([]string{LogText, LogJSON, LogPretty}, f) {
		errs = append(errs, fmt.Errorf("config: log.format %q is not one of text, json, pretty", f))
	}

	return errors.Join(errs...)
}

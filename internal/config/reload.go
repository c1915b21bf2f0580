package config

import (
	"fmt"
	"log/slog"
	"reflect"
)

// ReloadResult describes what changed during a config reload.
type ReloadResult struct {
	Changed []string // list of changed sections
	Applied []string // successfully applied
	Skipped []string // require restart
}

// hotReloadable sections are copied into the live config on reload. Every
// other section is wired into long-lived components at startup.
var hotReloadable = map[string]bool{
	"Log": true,
}

// Reload re-reads the config from path and applies hot-reloadable sections
// in place. An invalid file leaves the live config untouched.
func (c *Config) Reload(path string) (*ReloadResult, error) {
	next := DefaultConfig()
	if err := decodeFile(path, next); err != nil {
		return nil, fmt.Errorf("reload: %w", err)
	}
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("reload: %w", err)
	}

	result := &ReloadResult{}
	oldV := reflect.ValueOf(c).Elem()
	newV := reflect.ValueOf(next).Elem()
	for i := 0; i < oldV.NumField(); i++ {
		name := oldV.Type().Field(i).Name
		if reflect.DeepEqual(oldV.Field(i).Interface(), newV.Field(i).Interface()) {
			continue
		}
		result.Changed = append(result.Changed, name)
		if hotReloadable[name] {
			oldV.Field(i).Set(newV.Field(i))
			result.Applied = append(result.Applied, name)
		} else {
			result.Skipped = append(result.Skipped, name)
		}
	}
	return result, nil
}

// LogResult logs the reload result at the appropriate levels.
func (r *ReloadResult) LogResult(logger *slog.Logger) {
	if len(r.Changed) == 0 {
		logger.Info("config reload: no changes detected")
		return
	}

	logger.Info("config reload complete",
		"changed", len(r.Changed),
		"applied", len(r.Applied),
		"skipped", len(r.Skipped),
	)
	for _, field := range r.Skipped {
		logger.Warn("config section requires restart", "section", field)
	}
}

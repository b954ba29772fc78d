package am

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/yoman/errors"
)

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	back1, back2, back3 := configPath+".back1", configPath+".back2", configPath+".back3"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete oldest backup")
	}
	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}
	return nil
}

func loadOrInitialize(configPath string) (map[string]interface{}, error) {
	if err := os.MkdirAll(filepath.Dir(configPath), 0750); err != nil {
		return nil, errors.Wrap(err, "failed to create config directory")
	}
	config := make(map[string]interface{})
	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", configPath)
	}
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", configPath)
	}
	return config, nil
}

func save(config map[string]interface{}, configPath string) error {
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}
	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	globalWatcherMu.Lock()
	if globalWatcher != nil && filepath.Clean(globalWatcher.configPath) == filepath.Clean(configPath) {
		// The daemon already knows about values it writes itself.
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write config")
	}
	return nil
}

// SetValue writes section.key = value into the TOML file at configPath,
// keeping every other setting and rotating backups.
func SetValue(configPath, section, key string, value interface{}) error {
	config, err := loadOrInitialize(configPath)
	if err != nil {
		return err
	}
	table, ok := config[section].(map[string]interface{})
	if !ok {
		table = make(map[string]interface{})
	}
	table[key] = value
	config[section] = table
	return save(config, configPath)
}

// UpdateQuota persists new gateway limits. A running daemon that watches
// the same file picks them up through its ConfigWatcher.
func UpdateQuota(configPath string, q QuotaConfig) error {
	config, err := loadOrInitialize(configPath)
	if err != nil {
		return err
	}
	config["quota"] = map[string]interface{}{
		"per_minute":       q.PerMinute,
		"per_hour":         q.PerHour,
		"per_day":          q.PerDay,
		"per_user_daily":   q.PerUserDaily,
		"daily_budget_usd": q.DailyBudgetUSD,
	}
	return save(config, configPath)
}

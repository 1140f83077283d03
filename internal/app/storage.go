// Storage for AdminConfig: plain JSON, atomic write-to-temp-then-rename,
// directly reusing the persistence shape of src/chainadapter/storage/file.go
// and internal/bridge/store/file.go's FileStore.persist, without the
// encryption layer the reference app_config.enc required for wallet
// secrets.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// AdminConfigFileName is the on-disk name of the coordinator's config
// file, the unencrypted analogue of the reference repo's app_config.enc.
const AdminConfigFileName = "admin_config.json"

// AdminConfigExists checks whether a config file is present at dir.
func AdminConfigExists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, AdminConfigFileName))
	return err == nil
}

// LoadAdminConfig reads and parses the config at dir, returning
// DefaultAdminConfig if no file exists yet.
func LoadAdminConfig(dir string) (*AdminConfig, error) {
	path := filepath.Join(dir, AdminConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultAdminConfig(), nil
		}
		return nil, fmt.Errorf("failed to read admin config: %w", err)
	}
	cfg, err := FromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse admin config: %w", err)
	}
	return cfg, nil
}

// SaveAdminConfig writes cfg to dir atomically: a temp file is written
// and fsynced, then renamed over the final path, so a crash mid-write
// never leaves a truncated config behind.
func SaveAdminConfig(cfg *AdminConfig, dir string) error {
	cfg.UpdatedAt = time.Now()
	data, err := cfg.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize admin config: %w", err)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	path := filepath.Join(dir, AdminConfigFileName)
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open temp config file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync temp config file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename config file into place: %w", err)
	}
	return nil
}

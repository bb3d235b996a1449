package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/audiolens/masterqc/internal/privacy"
)

// systemIDFile relative to the config directory.
const systemIDFile = ".system_id"

// LoadOrCreateSystemID returns the persisted system ID under configDir,
// creating and saving a fresh one when none exists or the stored value
// is malformed.
func LoadOrCreateSystemID(configDir string) (string, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	path := filepath.Join(configDir, systemIDFile)

	if data, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(data))
		if privacy.IsValidSystemID(id) {
			return id, nil
		}
	}

	id, err := privacy.GenerateSystemID()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id), 0o644); err != nil {
		return "", fmt.Errorf("failed to save system ID: %w", err)
	}
	return id, nil
}

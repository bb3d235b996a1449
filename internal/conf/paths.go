// conf/paths.go config file discovery and filesystem helpers
package conf

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/audiolens/masterqc/internal/errors"
)

const osWindows = "windows"

// GetDefaultConfigPaths returns OS specific config paths, most specific first.
func GetDefaultConfigPaths() ([]string, error) {
	var configPaths []string

	exePath, err := os.Executable()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-executable-path").
			Build()
	}
	exeDir := filepath.Dir(exePath)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	switch runtime.GOOS {
	case osWindows:
		configPaths = []string{
			exeDir,
			filepath.Join(homeDir, "AppData", "Roaming", "masterqc"),
		}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", "masterqc"),
			"/etc/masterqc",
		}
	}

	return configPaths, nil
}

// FindConfigFile locates the active config.yaml among the default paths.
func FindConfigFile() (string, error) {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return "", err
	}
	for _, path := range configPaths {
		configFile := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFile); err == nil {
			return configFile, nil
		}
	}
	return "", errors.Newf("config.yaml not found in any config path").
		Category(errors.CategoryConfiguration).
		Build()
}

// moveFile copies src to dst and removes src. Used when rename crosses
// filesystem boundaries.
func moveFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("error opening source file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("error creating destination file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("error copying file contents: %w", err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("error syncing destination file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("error closing destination file: %w", err)
	}

	return os.Remove(src)
}

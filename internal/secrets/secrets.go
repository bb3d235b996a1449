// Package secrets resolves credential values from files and environment
// references so tokens never have to sit verbatim in a config file.
// Values are resolved once at startup; nothing here logs a secret.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/audiolens/masterqc/internal/logging"
)

// maxSecretFileSize caps secret file reads. Tokens and passwords are
// short; anything larger is a misconfigured path.
const maxSecretFileSize = 64 * 1024

var log = logging.ForService("secrets")

// ExpandString resolves ${VAR} and ${VAR:-default} references in s.
// A referenced variable that is unset and has no fallback is an error,
// so a missing token fails loudly instead of sending empty credentials.
func ExpandString(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name := key
		fallback := ""
		hasFallback := false
		if idx := strings.Index(key, ":-"); idx != -1 {
			name = key[:idx]
			fallback = key[idx+2:]
			hasFallback = true
		}

		value := os.Getenv(name)
		if value == "" {
			if hasFallback {
				return fallback
			}
			missing = append(missing, name)
			return ""
		}
		return value
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// ReadFile reads a secret from path, the way Docker and Kubernetes mount
// them. Trailing newlines are trimmed since they are almost never part
// of the secret.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("secret file path is empty")
	}

	cleanPath := filepath.Clean(path)
	info, err := os.Stat(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("secret file not found: %s", cleanPath)
		}
		return "", fmt.Errorf("failed to stat secret file %s: %w", cleanPath, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("secret path is not a regular file: %s", cleanPath)
	}
	if info.Size() > maxSecretFileSize {
		return "", fmt.Errorf("secret file too large (max %d bytes): %s", maxSecretFileSize, cleanPath)
	}

	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		log.Warn("secret file is readable by group/other",
			"path", cleanPath,
			"perm", fmt.Sprintf("%04o", perm))
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return "", fmt.Errorf("failed to read secret file %s: %w", cleanPath, err)
	}

	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", fmt.Errorf("secret file is empty: %s", cleanPath)
	}
	return secret, nil
}

// Resolve picks the secret value from the configured sources. A file
// path wins over an inline value; inline values go through env
// expansion. Both empty means no secret, which is not an error here.
func Resolve(filePath, value string) (string, error) {
	if filePath != "" {
		secret, err := ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("failed to read secret from file: %w", err)
		}
		return secret, nil
	}
	if value != "" {
		return ExpandString(value)
	}
	return "", nil
}

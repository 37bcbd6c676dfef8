// Package secrets resolves credentials from environment references or
// mounted secret files (Docker/Kubernetes secrets).
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/tphakala/polecam/internal/errors"
	"github.com/tphakala/polecam/internal/logger"
)

// secrets are tokens and passwords, not large files
const maxSecretFileSize = 64 * 1024

// Resolver reads secret files from a filesystem
type Resolver struct {
	fs  afero.Fs
	log logger.Logger
}

// NewResolver returns a resolver reading from fs. log may be nil.
func NewResolver(fs afero.Fs, log logger.Logger) *Resolver {
	if log == nil {
		log = logger.Global().Module("secrets")
	}
	return &Resolver{fs: fs, log: log}
}

// ExpandString expands ${VAR} and ${VAR:-default} references in s.
// A reference without a default to an unset variable is an error.
func ExpandString(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, def, hasDefault := strings.Cut(key, ":-")
		if value := os.Getenv(name); value != "" {
			return value
		}
		if !hasDefault {
			missing = append(missing, name)
		}
		return def
	})

	if len(missing) > 0 {
		return "", secretError(fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))).
			Context("variables", strings.Join(missing, ",")).
			Build()
	}
	return expanded, nil
}

// ReadFile reads a secret file, trimming trailing newlines. Files readable by
// group or others are accepted with a warning.
func (r *Resolver) ReadFile(path string) (string, error) {
	if path == "" {
		return "", secretError(fmt.Errorf("secret file path is empty")).Build()
	}
	cleanPath := filepath.Clean(path)

	info, err := r.fs.Stat(cleanPath)
	if err != nil {
		return "", secretError(fmt.Errorf("secret file %s: %w", cleanPath, err)).
			Context("path", cleanPath).
			Build()
	}
	if !info.Mode().IsRegular() {
		return "", secretError(fmt.Errorf("secret path is not a regular file: %s", cleanPath)).Build()
	}
	if info.Size() > maxSecretFileSize {
		return "", secretError(fmt.Errorf("secret file too large (max %d bytes): %s", maxSecretFileSize, cleanPath)).Build()
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		r.log.Warn("secret file has group/other permissions",
			logger.String("path", cleanPath),
			logger.String("perm", fmt.Sprintf("%04o", perm)))
	}

	data, err := afero.ReadFile(r.fs, cleanPath)
	if err != nil {
		return "", secretError(fmt.Errorf("failed to read secret file %s: %w", cleanPath, err)).Build()
	}

	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", secretError(fmt.Errorf("secret file is empty: %s", cleanPath)).Build()
	}
	return secret, nil
}

// Resolve returns the secret from filePath when set, otherwise value with
// environment references expanded
func (r *Resolver) Resolve(filePath, value string) (string, error) {
	if filePath != "" {
		return r.ReadFile(filePath)
	}
	return ExpandString(value)
}

func secretError(err error) *errors.ErrorBuilder {
	return errors.New(err).
		Component("secrets").
		Category(errors.CategoryConfiguration)
}

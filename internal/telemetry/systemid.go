package telemetry

import (
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/tphakala/polecam/internal/errors"
	"github.com/tphakala/polecam/internal/privacy"
)

const systemIDFile = ".system_id"

// LoadOrCreateSystemID reads the system id stored in configDir, creating and
// storing a new one when the file is missing or malformed
func LoadOrCreateSystemID(fs afero.Fs, configDir string) (string, error) {
	if err := fs.MkdirAll(configDir, 0o755); err != nil {
		return "", fileError(err, "create_config_dir", configDir)
	}

	idFile := filepath.Join(configDir, systemIDFile)
	if data, err := afero.ReadFile(fs, idFile); err == nil {
		if id := strings.TrimSpace(string(data)); privacy.IsValidSystemID(id) {
			return id, nil
		}
	}

	id, err := privacy.GenerateSystemID()
	if err != nil {
		return "", err
	}
	if err := afero.WriteFile(fs, idFile, []byte(id), 0o644); err != nil {
		return "", fileError(err, "write_system_id", idFile)
	}
	return id, nil
}

func fileError(err error, op, path string) error {
	return errors.New(err).
		Component("telemetry").
		Category(errors.CategoryFileIO).
		Context("operation", op).
		Context("path", path).
		Build()
}

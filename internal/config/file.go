package config

import (
	"bytes"
	"fmt"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/inlinesvg/internal/errors"
)

// DefaultFilename is the configuration file looked up in the working
// directory.
const DefaultFilename = ".inlinesvg.yml"

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, errors.WrapConfig(err, "failed to encode configuration")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.WrapConfig(err, "failed to encode configuration")
	}
	return buf.Bytes(), nil
}

// WriteFile writes cfg to path on fs. An existing file is only replaced
// when force is set.
func WriteFile(fs afero.Fs, path string, cfg *Config, force bool) error {
	if !force {
		exists, err := afero.Exists(fs, path)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeIO, errors.ErrCodeStorage, "failed to stat configuration file")
		}
		if exists {
			return errors.NewConfigError(errors.ErrCodeConfigInvalid, fmt.Sprintf("%s already exists", path)).
				WithContext("path", path)
		}
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	header := []byte("# inlinesvg configuration\n")
	if err := afero.WriteFile(fs, path, append(header, data...), 0o644); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, errors.ErrCodeStorage, "failed to write configuration file")
	}
	return nil
}

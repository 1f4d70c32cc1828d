package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/rowjay/restorekit/internal/cryptoutil"
)

// EncryptConfigFile seals a config file for use with Load. secret is a key
// or a passphrase. The input must parse as a config so a typo is caught
// before it is hidden behind encryption.
func EncryptConfigFile(inputPath, outputPath, secret string) error {
	if filepath.Clean(inputPath) == filepath.Clean(outputPath) {
		return fmt.Errorf("output must differ from input")
	}
	plain, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	vp := viper.New()
	vp.SetConfigType(configTypeFromPath(inputPath))
	if err := vp.ReadConfig(bytes.NewReader(plain)); err != nil {
		return fmt.Errorf("parse %s: %w", inputPath, err)
	}
	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("decode %s: %w", inputPath, err)
	}
	sealed, err := cryptoutil.SealConfig(plain, secret)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, sealed, 0o600)
}

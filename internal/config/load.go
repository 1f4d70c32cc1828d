package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rowjay/restorekit/internal/cryptoutil"
)

const (
	envPrefix = "RKIT"
	keyEnv    = "RKIT_CONFIG_KEY"
	pathEnv   = "RKIT_CONFIG"
	appName   = "rkit"
)

var (
	configExts = []string{".yaml", ".yml", ".toml", ".json"}
	sealedExts = []string{".enc", ".encrypted"}
)

// Load reads configuration from a file (optionally sealed), RKIT_* env vars
// and defaults. Env vars override the file.
func Load(path string) (*Config, error) {
	vp := viper.New()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()
	setDefaults(vp)

	if path == "" {
		path = os.Getenv(pathEnv)
	}
	if path == "" {
		path = findConfig(searchDirs())
	}
	if path != "" {
		if err := readConfig(vp, path); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	expandEnv(&cfg)
	applyPostLoadDefaults(&cfg)
	return &cfg, nil
}

func readConfig(vp *viper.Viper, path string) error {
	if !isEncryptedPath(path) {
		vp.SetConfigFile(path)
		if err := vp.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	key := os.Getenv(keyEnv)
	if key == "" {
		key = vp.GetString("global.config_passphrase")
	}
	if key == "" {
		return errors.New("config file is encrypted but " + keyEnv + " is not set")
	}
	plain, err := cryptoutil.OpenConfig(data, key)
	if err != nil {
		return fmt.Errorf("decrypt config: %w", err)
	}
	vp.SetConfigType(configTypeFromPath(path))
	if err := vp.ReadConfig(bytes.NewReader(plain)); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// searchDirs is the working directory, then the user config directory.
func searchDirs() []string {
	dirs := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(dir, appName))
	}
	return dirs
}

// findConfig returns the first rkit.<ext> in dirs, preferring plain files
// over sealed ones within a directory. Empty when nothing exists.
func findConfig(dirs []string) string {
	for _, dir := range dirs {
		for _, sealed := range append([]string{""}, sealedExts...) {
			for _, ext := range configExts {
				p := filepath.Join(dir, appName+ext+sealed)
				if _, err := os.Stat(p); err == nil {
					return p
				}
			}
		}
	}
	return ""
}

func isEncryptedPath(path string) bool {
	_, sealed := trimSealed(path)
	return sealed
}

func trimSealed(path string) (string, bool) {
	for _, ext := range sealedExts {
		if base, ok := strings.CutSuffix(path, ext); ok {
			return base, true
		}
	}
	return path, false
}

func configTypeFromPath(path string) string {
	base, _ := trimSealed(path)
	switch filepath.Ext(base) {
	case ".toml":
		return "toml"
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}

func setDefaults(vp *viper.Viper) {
	for key, value := range map[string]any{
		"global.log_level":                "info",
		"global.log_format":               "json",
		"global.operation_timeout":        "2h",
		"target.connect_retries":          3,
		"target.connect_backoff":          "5s",
		"target.connect_timeout":          "30s",
		"target.lookup_batch_size":        100,
		"restore.batch_size":              200,
		"restore.validate_before_restore": true,
		"restore.resolve_relationships":   true,
		"restore.mode":                    "insert",
		"restore.max_retries":             3,
		"restore.retry_delay":             "2s",
		"restore.parallelism":             4,
		"storage.backend":                 "local",
		"storage.local.path":              "./backups",
		"schedule.timezone":               "",
	} {
		vp.SetDefault(key, value)
	}
}

// applyPostLoadDefaults repairs zero values that env overrides or an
// explicit 0 in the file can leave behind.
func applyPostLoadDefaults(cfg *Config) {
	if cfg.Restore.BatchSize <= 0 {
		cfg.Restore.BatchSize = 200
	}
	if cfg.Restore.RetryDelay == 0 {
		cfg.Restore.RetryDelay = 2 * time.Second
	}
	if cfg.Restore.Parallelism <= 0 {
		cfg.Restore.Parallelism = 1
	}
	if cfg.Target.ConnectBackoff == 0 {
		cfg.Target.ConnectBackoff = 5 * time.Second
	}
	if cfg.Global.OperationTimeout == 0 {
		cfg.Global.OperationTimeout = 2 * time.Hour
	}
}

// expandEnv substitutes ${VAR} in the fields that usually carry secrets.
func expandEnv(cfg *Config) {
	fields := []*string{
		&cfg.Target.URL,
		&cfg.Target.Username,
		&cfg.Target.Password,
		&cfg.Source.EncryptionKey,
		&cfg.Storage.S3.AccessKey,
		&cfg.Storage.S3.SecretKey,
		&cfg.Storage.S3.SessionToken,
	}
	n := &cfg.Notifications
	for i := range n.Webhooks {
		fields = append(fields, &n.Webhooks[i].URL)
	}
	for i := range n.Mattermost {
		fields = append(fields, &n.Mattermost[i].URL)
	}
	for i := range n.Matrix {
		fields = append(fields, &n.Matrix[i].ServerURL, &n.Matrix[i].AccessToken, &n.Matrix[i].RoomID)
	}
	for _, f := range fields {
		*f = os.ExpandEnv(*f)
	}
}

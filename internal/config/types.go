package config

import "time"

// Config is the root configuration schema.
type Config struct {
	Global        GlobalConfig        `mapstructure:"global"`
	Target        TargetConfig        `mapstructure:"target"`
	Source        SourceConfig        `mapstructure:"source"`
	Restore       RestoreConfig       `mapstructure:"restore"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Schedule      ScheduleConfig      `mapstructure:"schedule"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

type GlobalConfig struct {
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"` // json or console
	LockFile         string        `mapstructure:"lock_file"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	ConfigPassphrase string        `mapstructure:"config_passphrase"` // optional; may come from env
}

// TargetConfig selects the live datastore records are restored into.
type TargetConfig struct {
	Type             string            `mapstructure:"type"` // postgres, sqlite
	URL              string            `mapstructure:"url"`
	Host             string            `mapstructure:"host"`
	Port             int               `mapstructure:"port"`
	Username         string            `mapstructure:"username"`
	Password         string            `mapstructure:"password"`
	Database         string            `mapstructure:"database"`
	Schema           string            `mapstructure:"schema"`
	Params           map[string]string `mapstructure:"params"`
	SSLMode          string            `mapstructure:"ssl_mode"`
	SQLitePath       string            `mapstructure:"sqlite_path"`
	RunningPrincipal string            `mapstructure:"running_principal"`
	MaxConns         int               `mapstructure:"max_conns"`
	ConnectTimeout   time.Duration     `mapstructure:"connect_timeout"`
	ConnectRetries   int               `mapstructure:"connect_retries"`
	ConnectBackoff   time.Duration     `mapstructure:"connect_backoff"`
	LookupBatchSize  int               `mapstructure:"lookup_batch_size"`
}

// SourceConfig locates the backup set inside storage.
type SourceConfig struct {
	Backup        string `mapstructure:"backup"` // backup set prefix, e.g. prod/2024-05-01T0200
	EncryptionKey string `mapstructure:"encryption_key"`
	TransformFile string `mapstructure:"transform_file"` // overrides the config shipped with the backup
}

type RestoreConfig struct {
	Objects               []string      `mapstructure:"objects"`
	BatchSize             int           `mapstructure:"batch_size"`
	StopOnError           bool          `mapstructure:"stop_on_error"`
	ValidateBeforeRestore bool          `mapstructure:"validate_before_restore"`
	ResolveRelationships  bool          `mapstructure:"resolve_relationships"`
	PreserveOriginalIDs   bool          `mapstructure:"preserve_original_ids"`
	DryRun                bool          `mapstructure:"dry_run"`
	ExternalIDField       string        `mapstructure:"external_id_field"`
	Mode                  string        `mapstructure:"mode"` // insert, upsert, update
	MaxRetries            int           `mapstructure:"max_retries"`
	RetryDelay            time.Duration `mapstructure:"retry_delay"`
	Parallelism           int           `mapstructure:"parallelism"`
	Priority              []string      `mapstructure:"priority"`
}

type StorageConfig struct {
	Backend string     `mapstructure:"backend"` // local, s3
	Local   LocalStore `mapstructure:"local"`
	S3      S3Store    `mapstructure:"s3"`
	Prefix  string     `mapstructure:"prefix"`
}

type LocalStore struct {
	Path string `mapstructure:"path"`
}

type S3Store struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	SessionToken    string `mapstructure:"session_token"`
	TLSInsecureSkip bool   `mapstructure:"tls_insecure_skip"`
}

type NotificationsConfig struct {
	Webhooks   []WebhookConfig  `mapstructure:"webhooks"`
	Mattermost []MattermostHook `mapstructure:"mattermost"`
	Matrix     []MatrixConfig   `mapstructure:"matrix"`
}

type WebhookConfig struct {
	Name    string            `mapstructure:"name"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type MattermostHook struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

type MatrixConfig struct {
	Name        string `mapstructure:"name"`
	ServerURL   string `mapstructure:"server_url"`
	AccessToken string `mapstructure:"access_token"`
	RoomID      string `mapstructure:"room_id"`
}

type ScheduleConfig struct {
	WindowStart string `mapstructure:"window_start"` // HH:MM local time
	WindowEnd   string `mapstructure:"window_end"`
	Timezone    string `mapstructure:"timezone"`
}

// MetricsConfig enables a prometheus textfile written after each run.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

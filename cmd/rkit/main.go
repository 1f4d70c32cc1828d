package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rowjay/restorekit/internal/app"
	"github.com/rowjay/restorekit/internal/config"
	"github.com/rowjay/restorekit/internal/logging"
	"github.com/rowjay/restorekit/internal/notify"
	"github.com/rowjay/restorekit/internal/restore"
	"github.com/rowjay/restorekit/internal/storage"
	"github.com/rowjay/restorekit/internal/version"
)

type rootFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
	Output     string
}

type overrideFlags struct {
	TargetType     string
	TargetURL      string
	TargetHost     string
	TargetPort     int
	TargetUser     string
	TargetPassword string
	TargetDB       string
	SQLitePath     string
	Backup         string
	EncryptionKey  string
	TransformFile  string
	Storage        string
	LocalPath      string
	StoragePrefix  string
	S3Endpoint     string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3Region       string
	S3UseSSL       string
	S3PathStyle    string
	Objects        []string
}

type restoreFlags struct {
	BatchSize       int
	Mode            string
	ExternalIDField string
	Parallelism     int
	MaxRetries      int
	StopOnError     bool
	PreserveIDs     bool
	NoValidate      bool
	NoResolve       bool
	DryRun          bool
}

func main() {
	root := &rootFlags{}
	overrides := &overrideFlags{}

	rootCmd := &cobra.Command{
		Use:          "rkit",
		Short:        "Restore exported records into a live datastore in dependency order",
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&root.ConfigPath, "config", "", "Path to config file (yaml/toml/json or .enc)")
	pf.StringVar(&root.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&root.LogFormat, "log-format", "", "Log format (json, console)")
	pf.StringVarP(&root.Output, "output", "o", "text", "Output format (text, json)")

	pf.StringVar(&overrides.TargetType, "target-type", "", "Target type (postgres, sqlite)")
	pf.StringVar(&overrides.TargetURL, "target-url", "", "Target connection URL")
	pf.StringVar(&overrides.TargetHost, "target-host", "", "Target host")
	pf.IntVar(&overrides.TargetPort, "target-port", 0, "Target port")
	pf.StringVar(&overrides.TargetUser, "target-user", "", "Target username")
	pf.StringVar(&overrides.TargetPassword, "target-password", "", "Target password")
	pf.StringVar(&overrides.TargetDB, "target-db", "", "Target database name")
	pf.StringVar(&overrides.SQLitePath, "sqlite-path", "", "SQLite target file path")

	pf.StringVar(&overrides.Backup, "backup", "", "Backup set to restore, relative to the storage prefix")
	pf.StringVar(&overrides.EncryptionKey, "encryption-key", "", "Key (base64 or hex) for encrypted backup files")
	pf.StringVar(&overrides.TransformFile, "transform-file", "", "Transformation config overriding the one in the backup")
	pf.StringSliceVar(&overrides.Objects, "objects", nil, "Object types to restore (default: all in the backup)")

	pf.StringVar(&overrides.Storage, "storage", "", "Storage backend (local, s3)")
	pf.StringVar(&overrides.LocalPath, "storage-path", "", "Local storage path")
	pf.StringVar(&overrides.StoragePrefix, "storage-prefix", "", "Key prefix backups live under")
	pf.StringVar(&overrides.S3Endpoint, "s3-endpoint", "", "S3 endpoint (MinIO/OSS)")
	pf.StringVar(&overrides.S3Bucket, "s3-bucket", "", "S3 bucket")
	pf.StringVar(&overrides.S3AccessKey, "s3-access-key", "", "S3 access key")
	pf.StringVar(&overrides.S3SecretKey, "s3-secret-key", "", "S3 secret key")
	pf.StringVar(&overrides.S3Region, "s3-region", "", "S3 region")
	pf.StringVar(&overrides.S3UseSSL, "s3-ssl", "", "Use SSL for S3 endpoint (true/false)")
	pf.StringVar(&overrides.S3PathStyle, "s3-path-style", "", "Force path-style S3 (true/false)")

	rootCmd.AddCommand(newRestoreCmd(root, overrides))
	rootCmd.AddCommand(newPreviewCmd(root, overrides))
	rootCmd.AddCommand(newOrderCmd(root, overrides))
	rootCmd.AddCommand(newValidateCmd(root, overrides))
	rootCmd.AddCommand(newListCmd(root, overrides))
	rootCmd.AddCommand(newSuggestCmd(root, overrides))
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addRestoreFlags(cmd *cobra.Command, rf *restoreFlags) {
	f := cmd.Flags()
	f.IntVar(&rf.BatchSize, "batch-size", 0, "Records per batch")
	f.StringVar(&rf.Mode, "mode", "", "Write mode (insert, upsert, update)")
	f.StringVar(&rf.ExternalIDField, "external-id-field", "", "Field keying upserts")
	f.IntVar(&rf.Parallelism, "parallelism", 0, "Objects restored concurrently within a wave")
	f.IntVar(&rf.MaxRetries, "max-retries", -1, "Retries for transient record failures")
	f.BoolVar(&rf.StopOnError, "stop-on-error", false, "Stop at the first failed batch")
	f.BoolVar(&rf.PreserveIDs, "preserve-ids", false, "Upsert on the original identifiers")
	f.BoolVar(&rf.NoValidate, "no-validate", false, "Skip validation against target metadata")
	f.BoolVar(&rf.NoResolve, "no-resolve", false, "Skip relationship resolution")
}

func (rf *restoreFlags) apply(cfg *config.RestoreConfig) {
	if rf.BatchSize > 0 {
		cfg.BatchSize = rf.BatchSize
	}
	if rf.Mode != "" {
		cfg.Mode = rf.Mode
	}
	if rf.ExternalIDField != "" {
		cfg.ExternalIDField = rf.ExternalIDField
	}
	if rf.Parallelism > 0 {
		cfg.Parallelism = rf.Parallelism
	}
	if rf.MaxRetries >= 0 {
		cfg.MaxRetries = rf.MaxRetries
	}
	if rf.StopOnError {
		cfg.StopOnError = true
	}
	if rf.PreserveIDs {
		cfg.PreserveOriginalIDs = true
	}
	if rf.NoValidate {
		cfg.ValidateBeforeRestore = false
	}
	if rf.NoResolve {
		cfg.ResolveRelationships = false
	}
	if rf.DryRun {
		cfg.DryRun = true
	}
}

func newRestoreCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	rf := &restoreFlags{}
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a backup set into the target",
		RunE: func(cmd *cobra.Command, args []string) error {
			appSvc, cfg, err := buildApp(root, overrides)
			if err != nil {
				return err
			}
			rf.apply(&cfg.Restore)
			ctx, cancel := runContext(cfg)
			defer cancel()

			rep, runErr := appSvc.Restore(ctx)
			if rep != nil {
				if err := render(cmd.OutOrStdout(), root.Output, rep, rep.WriteText); err != nil {
					return err
				}
			}
			if runErr != nil {
				return runErr
			}
			if status := rep.Status(); status != restore.StatusSuccess && status != restore.StatusDryRun {
				return fmt.Errorf("restore finished with status %s", status)
			}
			appSvc.Log.Info().Str("run_id", rep.RunID).Dur("duration", rep.Duration()).Msg("restore completed")
			return nil
		},
	}
	addRestoreFlags(cmd, rf)
	cmd.Flags().BoolVar(&rf.DryRun, "dry-run", false, "Run every step except writing")
	return cmd
}

func newPreviewCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	rf := &restoreFlags{}
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Estimate a restore without writing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			appSvc, cfg, err := buildApp(root, overrides)
			if err != nil {
				return err
			}
			rf.apply(&cfg.Restore)
			ctx, cancel := runContext(cfg)
			defer cancel()

			pv, err := appSvc.Preview(ctx)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), root.Output, pv, pv.WriteText)
		},
	}
	addRestoreFlags(cmd, rf)
	return cmd
}

func newOrderCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "order",
		Short: "Show the restore order computed from target metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			appSvc, cfg, err := buildApp(root, overrides)
			if err != nil {
				return err
			}
			ctx, cancel := runContext(cfg)
			defer cancel()
			plan, err := appSvc.Order(ctx)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), root.Output, plan, func(w io.Writer) error {
				for i, wave := range plan.Waves {
					fmt.Fprintf(w, "wave %d: %s\n", i+1, strings.Join(wave, ", "))
				}
				for _, c := range plan.Cycles {
					fmt.Fprintf(w, "cycle: %s\n", strings.Join(c, ", "))
				}
				for _, v := range plan.Violations {
					fmt.Fprintf(w, "backup order violation: %s\n", v)
				}
				return nil
			})
		},
	}
}

func newValidateCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate connectivity and backup records against the target",
		RunE: func(cmd *cobra.Command, args []string) error {
			appSvc, cfg, err := buildApp(root, overrides)
			if err != nil {
				return err
			}
			ctx, cancel := runContext(cfg)
			defer cancel()
			reports, err := appSvc.Validate(ctx)
			if err != nil {
				return err
			}
			failed := 0
			for _, r := range reports {
				if !r.OK() {
					failed++
				}
			}
			err = render(cmd.OutOrStdout(), root.Output, reports, func(w io.Writer) error {
				for _, r := range reports {
					fmt.Fprintf(w, "%s: %s records, %d errors, %d warnings\n", r.Object, humanize.Comma(int64(r.Records)), len(r.Errors), len(r.Warnings))
					for _, e := range r.Errors {
						fmt.Fprintf(w, "  error: %s\n", e)
					}
					for _, wn := range r.Warnings {
						fmt.Fprintf(w, "  warning: %s\n", wn)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("validation failed for %d objects", failed)
			}
			appSvc.Log.Info().Msg("validation succeeded")
			return nil
		},
	}
}

func newListCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backup sets in storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			appSvc, cfg, err := buildApp(root, overrides)
			if err != nil {
				return err
			}
			ctx, cancel := runContext(cfg)
			defer cancel()
			sets, err := appSvc.List(ctx)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), root.Output, sets, func(w io.Writer) error {
				for _, s := range sets {
					fmt.Fprintf(w, "%s\t%s\t%d objects\t%s\t%s\n", s.Prefix, s.Generated, s.Objects, humanize.IBytes(uint64(s.SizeBytes)), s.Source)
				}
				return nil
			})
		},
	}
}

func newSuggestCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var fields []string
	cmd := &cobra.Command{
		Use:   "suggest <object>",
		Short: "Suggest picklist mappings and print the resulting transformation config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appSvc, cfg, err := buildApp(root, overrides)
			if err != nil {
				return err
			}
			ctx, cancel := runContext(cfg)
			defer cancel()
			tc, suggestions, err := appSvc.Suggest(ctx, args[0], fields)
			if err != nil {
				return err
			}
			for _, fs := range suggestions {
				for _, s := range fs.Suggestions {
					appSvc.Log.Info().Str("field", fs.Field).Str("from", s.Source).Str("to", s.Target).Float64("score", s.Score).Msg(s.Reason)
				}
			}
			if root.Output == "json" {
				return writeJSON(cmd.OutOrStdout(), suggestions)
			}
			return tc.WriteYAML(cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringSliceVar(&fields, "field", nil, "Fields to map (default: the target's picklist fields)")
	return cmd
}

func newConfigCmd() *cobra.Command {
	var input string
	var output string
	var key string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config utilities",
	}

	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Seal a config file with a key or passphrase",
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				key = os.Getenv("RKIT_CONFIG_KEY")
			}
			if input == "" || output == "" || key == "" {
				return fmt.Errorf("--input, --output and --key are required")
			}
			return config.EncryptConfigFile(input, output, key)
		},
	}
	encrypt.Flags().StringVar(&input, "input", "", "Input config file")
	encrypt.Flags().StringVar(&output, "output", "", "Output encrypted config file")
	encrypt.Flags().StringVar(&key, "key", "", "Key (base64 or hex) or passphrase, defaults to RKIT_CONFIG_KEY")

	cmd.AddCommand(encrypt)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

func buildApp(root *rootFlags, overrides *overrideFlags) (*app.App, *config.Config, error) {
	cfg, err := loadConfig(root, overrides)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)
	store, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	return app.New(cfg, store, logger, notify.FromConfig(cfg.Notifications)), cfg, nil
}

// runContext bounds a command by the operation timeout and cancels it on
// SIGINT or SIGTERM; a batch in flight still completes.
func runContext(cfg *config.Config) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	timeout := cfg.Global.OperationTimeout
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func render(w io.Writer, format string, v any, text func(io.Writer) error) error {
	if strings.EqualFold(format, "json") {
		return writeJSON(w, v)
	}
	return text(w)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func loadConfig(root *rootFlags, overrides *overrideFlags) (*config.Config, error) {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, root, overrides)
	return cfg, nil
}

func applyOverrides(cfg *config.Config, root *rootFlags, overrides *overrideFlags) {
	if root.LogLevel != "" {
		cfg.Global.LogLevel = root.LogLevel
	}
	if root.LogFormat != "" {
		cfg.Global.LogFormat = root.LogFormat
	}

	if overrides.TargetType != "" {
		cfg.Target.Type = overrides.TargetType
	}
	if overrides.TargetURL != "" {
		cfg.Target.URL = overrides.TargetURL
	}
	if overrides.TargetHost != "" {
		cfg.Target.Host = overrides.TargetHost
	}
	if overrides.TargetPort != 0 {
		cfg.Target.Port = overrides.TargetPort
	}
	if overrides.TargetUser != "" {
		cfg.Target.Username = overrides.TargetUser
	}
	if overrides.TargetPassword != "" {
		cfg.Target.Password = overrides.TargetPassword
	}
	if overrides.TargetDB != "" {
		cfg.Target.Database = overrides.TargetDB
	}
	if overrides.SQLitePath != "" {
		cfg.Target.SQLitePath = overrides.SQLitePath
	}

	if overrides.Backup != "" {
		cfg.Source.Backup = overrides.Backup
	}
	if overrides.EncryptionKey != "" {
		cfg.Source.EncryptionKey = overrides.EncryptionKey
	}
	if overrides.TransformFile != "" {
		cfg.Source.TransformFile = overrides.TransformFile
	}
	if len(overrides.Objects) > 0 {
		cfg.Restore.Objects = overrides.Objects
	}

	if overrides.Storage != "" {
		cfg.Storage.Backend = overrides.Storage
	}
	if overrides.LocalPath != "" {
		cfg.Storage.Local.Path = overrides.LocalPath
	}
	if overrides.StoragePrefix != "" {
		cfg.Storage.Prefix = overrides.StoragePrefix
	}
	if overrides.S3Endpoint != "" {
		cfg.Storage.S3.Endpoint = overrides.S3Endpoint
	}
	if overrides.S3Bucket != "" {
		cfg.Storage.S3.Bucket = overrides.S3Bucket
	}
	if overrides.S3AccessKey != "" {
		cfg.Storage.S3.AccessKey = overrides.S3AccessKey
	}
	if overrides.S3SecretKey != "" {
		cfg.Storage.S3.SecretKey = overrides.S3SecretKey
	}
	if overrides.S3Region != "" {
		cfg.Storage.S3.Region = overrides.S3Region
	}
	if overrides.S3UseSSL != "" {
		cfg.Storage.S3.UseSSL = parseBool(overrides.S3UseSSL)
	}
	if overrides.S3PathStyle != "" {
		cfg.Storage.S3.ForcePathStyle = parseBool(overrides.S3PathStyle)
	}

	cfg.Target.Type = strings.ToLower(cfg.Target.Type)
	cfg.Storage.Backend = strings.ToLower(cfg.Storage.Backend)
}

func parseBool(s string) bool {
	return strings.EqualFold(s, "true") || s == "1"
}

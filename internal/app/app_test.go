package app

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/restorekit/internal/config"
	"github.com/rowjay/restorekit/internal/notify"
	"github.com/rowjay/restorekit/internal/restore"
	"github.com/rowjay/restorekit/internal/storage"
	"github.com/rowjay/restorekit/internal/util"
)

const schema = `
CREATE TABLE "Account" ("Id" INTEGER PRIMARY KEY, "Name" TEXT NOT NULL UNIQUE, "Industry" TEXT);
CREATE TABLE "Contact" (
	"Id" INTEGER PRIMARY KEY,
	"LastName" TEXT NOT NULL,
	"AccountId" INTEGER NOT NULL REFERENCES "Account"("Id"),
	"Email" VARCHAR(80)
);`

const backupName = "prod/2024-05-01"

var backupFiles = map[string]string{
	"_backup_manifest.json": `{
  "metadata": {"version": "1.0", "generatedAt": "2024-05-01T02:00:00Z", "sourceInstanceUrl": "https://prod.example.com", "backupType": "relationship-aware"},
  "restoreOrder": ["Account", "Contact"],
  "objects": {
    "Account": {"recordCount": 2, "fileName": "Account.csv"},
    "Contact": {"recordCount": 2, "fileName": "Contact.csv"}
  }
}`,
	"Account.csv": "Id,Name,Industry\n001A,Acme,Technolgy\n001B,Globex,Energy\n",
	"Contact.csv": "Id,LastName,AccountId,Email,_ref_AccountId_Name\n003A,Doe,001A,doe@acme.test,Acme\n003B,Roe,001B,,Globex\n",
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

type fixture struct {
	app      *App
	db       *sql.DB
	store    storage.Storage
	notifier *recordingNotifier
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	dbPath := filepath.Join(dir, "target.db")
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	store := storage.NewLocal(filepath.Join(dir, "backups"))
	for name, body := range backupFiles {
		require.NoError(t, store.Put(ctx, storage.Join(backupName, name), strings.NewReader(body), int64(len(body)), nil))
	}

	cfg := &config.Config{
		Global: config.GlobalConfig{LockFile: filepath.Join(dir, "rkit.lock")},
		Target: config.TargetConfig{Type: "sqlite", SQLitePath: dbPath, RunningPrincipal: "restore-bot", ConnectRetries: 1},
		Source: config.SourceConfig{Backup: backupName},
		Restore: config.RestoreConfig{
			BatchSize:             200,
			ValidateBeforeRestore: true,
			ResolveRelationships:  true,
			Mode:                  "insert",
			MaxRetries:            1,
			Parallelism:           2,
		},
		Metrics: config.MetricsConfig{Textfile: filepath.Join(dir, "rkit.prom")},
	}
	n := &recordingNotifier{}
	return &fixture{app: New(cfg, store, zerolog.Nop(), n), db: db, store: store, notifier: n, dir: dir}
}

func (f *fixture) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM "`+table+`"`).Scan(&n))
	return n
}

func TestRestoreIntoSQLite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rep, err := f.app.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, restore.StatusSuccess, rep.Status())
	assert.Equal(t, []string{"Account", "Contact"}, rep.Order)
	assert.Equal(t, 4, rep.Totals().Success)

	rows, err := f.db.Query(`SELECT c."LastName", a."Name" FROM "Contact" c JOIN "Account" a ON a."Id" = c."AccountId" ORDER BY c."LastName"`)
	require.NoError(t, err)
	defer rows.Close()
	var pairs []string
	for rows.Next() {
		var last, account string
		require.NoError(t, rows.Scan(&last, &account))
		pairs = append(pairs, last+"@"+account)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"Doe@Acme", "Roe@Globex"}, pairs)

	reports, err := f.store.List(ctx, storage.Join(backupName, util.ReportsDir))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0].Key, "_restore_"+rep.RunID+".json")

	prom, err := os.ReadFile(f.app.Cfg.Metrics.Textfile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `rkit_records_total{object="Contact",outcome="success"} 2`)

	require.Len(t, f.notifier.events, 1)
	ev := f.notifier.events[0]
	assert.Equal(t, "success", ev.Status)
	assert.Equal(t, 4, ev.Succeeded)
	assert.Equal(t, rep.RunID, ev.RunID)
}

func TestRestoreOutsideWindow(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	f.app.Cfg.Schedule = config.ScheduleConfig{
		WindowStart: now.Add(2 * time.Hour).Format("15:04"),
		WindowEnd:   now.Add(3 * time.Hour).Format("15:04"),
		Timezone:    "UTC",
	}

	_, err := f.app.Restore(context.Background())
	require.Error(t, err)
	assert.Zero(t, f.count(t, "Account"))
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, "failed", f.notifier.events[0].Status)
}

func TestDryRunRestoreIsNotASuccess(t *testing.T) {
	f := newFixture(t)
	f.app.Cfg.Restore.DryRun = true

	rep, err := f.app.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, restore.StatusDryRun, rep.Status())
	assert.Zero(t, f.count(t, "Account"))
	require.NotNil(t, rep.Result("Account").Planned)
	assert.Equal(t, 2, rep.Result("Account").Planned.Records)

	assert.Empty(t, f.notifier.events)
	_, err = os.Stat(f.app.Cfg.Metrics.Textfile)
	assert.True(t, os.IsNotExist(err), "dry run must not record a run in metrics")
}

func TestPreviewWritesNothing(t *testing.T) {
	f := newFixture(t)
	pv, err := f.app.Preview(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, pv.TotalRecords)
	assert.Equal(t, []string{"Account", "Contact"}, pv.Order)
	assert.Zero(t, f.count(t, "Account"))
	assert.Zero(t, f.count(t, "Contact"))

	reports, err := f.store.List(context.Background(), storage.Join(backupName, util.ReportsDir))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0].Key, "_preview_")
}

func TestOrderPlan(t *testing.T) {
	f := newFixture(t)
	plan, err := f.app.Order(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Account", "Contact"}, plan.Order)
	assert.Equal(t, [][]string{{"Account"}, {"Contact"}}, plan.Waves)
	assert.Equal(t, []string{"Account"}, plan.Dependencies["Contact"])
	assert.Empty(t, plan.Cycles)
	assert.Empty(t, plan.Violations)
}

func TestValidateBackup(t *testing.T) {
	f := newFixture(t)
	reports, err := f.app.Validate(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 2)
	for _, r := range reports {
		assert.True(t, r.OK(), "%s: %v", r.Object, r.Errors)
	}
}

func TestListBackups(t *testing.T) {
	f := newFixture(t)
	sets, err := f.app.List(context.Background())
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, backupName, sets[0].Prefix)
	assert.Equal(t, "https://prod.example.com", sets[0].Source)
	assert.Equal(t, 2, sets[0].Objects)
}

func TestSuggestPicklistMappings(t *testing.T) {
	f := newFixture(t)
	_, err := f.db.Exec(`INSERT INTO "Account" ("Name", "Industry") VALUES ('Existing', 'Technology'), ('Other', 'Energy')`)
	require.NoError(t, err)

	cfg, fields, err := f.app.Suggest(context.Background(), "Account", []string{"Industry"})
	require.NoError(t, err)
	require.Len(t, fields, 1)
	require.Len(t, fields[0].Suggestions, 1)
	assert.Equal(t, "Technolgy", fields[0].Suggestions[0].Source)
	assert.Equal(t, "Technology", fields[0].Suggestions[0].Target)
	assert.Equal(t, "Technology", cfg.Objects["Account"].PicklistMappings["Industry"]["Technolgy"])

	var out strings.Builder
	require.NoError(t, cfg.WriteYAML(&out))
	assert.Contains(t, out.String(), "Technolgy: Technology")
}

func TestRestoreOptions(t *testing.T) {
	opts, err := RestoreOptions(config.RestoreConfig{Mode: "upsert", BatchSize: 50, ExternalIDField: "Name"})
	require.NoError(t, err)
	assert.Equal(t, "UPSERT", string(opts.Mode))
	assert.Equal(t, 50, opts.BatchSize)

	_, err = RestoreOptions(config.RestoreConfig{Mode: "merge"})
	assert.Error(t, err)
}

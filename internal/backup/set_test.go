package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/restorekit/internal/compress"
	"github.com/rowjay/restorekit/internal/cryptoutil"
	"github.com/rowjay/restorekit/internal/meta"
	"github.com/rowjay/restorekit/internal/record"
	"github.com/rowjay/restorekit/internal/storage"
)

const manifestJSON = `{
  "metadata": {"version": "1.0", "generatedAt": "2024-05-01T02:00:00Z", "sourceInstanceUrl": "https://prod.example.com", "backupType": "relationship-aware"},
  "restoreOrder": ["Account", "Contact"],
  "objects": {
    "Account": {"recordCount": 2, "fileName": "Account.csv.zst", "recommendedUpsertField": "External_Id__c"},
    "Contact": {"recordCount": 1, "fileName": "Contact.csv.gz.enc"}
  }
}`

func testKey() []byte { return bytes.Repeat([]byte{7}, 32) }

func put(t *testing.T, store storage.Storage, key string, data []byte) {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), key, bytes.NewReader(data), int64(len(data)), nil))
}

func encode(t *testing.T, kind string, encrypt bool, plain string) []byte {
	t.Helper()
	var buf bytes.Buffer
	var out io.Writer = &buf
	var enc io.WriteCloser
	if encrypt {
		w, err := cryptoutil.EncryptWriter(&buf, testKey())
		require.NoError(t, err)
		enc, out = w, w
	}
	cw, err := compress.WrapWriter(kind, out)
	require.NoError(t, err)
	_, err = io.WriteString(cw, plain)
	require.NoError(t, err)
	require.NoError(t, cw.Close())
	if enc != nil {
		require.NoError(t, enc.Close())
	}
	return buf.Bytes()
}

func newSet(t *testing.T, withManifest bool) storage.Storage {
	t.Helper()
	store := storage.NewLocal(t.TempDir())
	put(t, store, "prod/0501/Account.csv.zst", encode(t, compress.TypeZstd, false, "\ufeffId,Name,External_Id__c\n001A,Acme,A-1\n001B,Globex,\n"))
	put(t, store, "prod/0501/Contact.csv.gz.enc", encode(t, compress.TypeGzip, true, "Id,LastName,AccountId\n003A,Doe,001A\n"))
	put(t, store, "prod/0501/_transformation_config.yaml", []byte("objects:\n  Contact:\n    excluded_fields: [Fax]\n"))
	put(t, store, "prod/0501/_restore_reports/old.json", []byte("{}"))
	if withManifest {
		put(t, store, "prod/0501/"+ManifestFile, []byte(manifestJSON))
		put(t, store, "prod/0501/"+IDMappingFile, []byte(`{"mappings": {"Account": {"identifierField": "Name", "idToIdentifier": {"001A": "Acme"}}}}`))
	}
	return store
}

func TestOpenReadsManifestAndData(t *testing.T) {
	ctx := context.Background()
	set, err := Open(ctx, newSet(t, true), "prod/0501", testKey(), zerolog.Nop())
	require.NoError(t, err)

	m, err := set.Manifest()
	require.NoError(t, err)
	assert.True(t, m.RelationshipAware())
	assert.Equal(t, "External_Id__c", m.UpsertField("Account"))
	assert.Equal(t, []string{"Account", "Contact"}, set.Objects())
	assert.Equal(t, int64(2), set.Count("Account"))
	assert.Greater(t, set.Size("Account"), int64(0))

	accounts, err := set.Records(ctx, "Account")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, []string{"Id", "Name", "External_Id__c"}, accounts[0].Keys())
	assert.Equal(t, "Acme", accounts[0].Str("Name"))
	v, ok := accounts[1].Get("External_Id__c")
	assert.True(t, ok)
	assert.False(t, v.Valid)

	contacts, err := set.Records(ctx, "Contact")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "Doe", contacts[0].Str("LastName"))

	cfg, err := set.TransformationConfig(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, []string{"Fax"}, cfg.Object("Contact").ExcludedFields)
}

func TestOpenWithoutManifestDiscoversObjects(t *testing.T) {
	set, err := Open(context.Background(), newSet(t, false), "prod/0501", nil, zerolog.Nop())
	require.NoError(t, err)

	_, err = set.Manifest()
	assert.True(t, errors.Is(err, ErrManifestNotFound))
	assert.Equal(t, []string{"Account", "Contact"}, set.Objects())
	assert.Equal(t, int64(-1), set.Count("Account"))
	assert.Nil(t, set.IDMapping())

	_, err = set.Records(context.Background(), "Contact")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no encryption key"))
}

func TestOpenEmptyPrefixFails(t *testing.T) {
	_, err := Open(context.Background(), storage.NewLocal(t.TempDir()), "missing", nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestIDMappingAddsReferenceColumns(t *testing.T) {
	set, err := Open(context.Background(), newSet(t, true), "prod/0501", testKey(), zerolog.Nop())
	require.NoError(t, err)
	md := meta.Requires("Contact", "Account")

	in := []*record.Record{
		record.FromPairs("LastName", "Doe", "AccountId", "001A"),
		record.FromPairs("LastName", "Roe", "AccountId", "001Z"),
		record.FromPairs("LastName", "Poe", "AccountId", "001A", "_ref_AccountId_External_Id__c", "A-1"),
	}
	out, added := set.IDMapping().AddReferenceColumns(md, in)
	assert.Equal(t, 1, added)
	assert.Equal(t, "Acme", out[0].Str("_ref_AccountId_Name"))
	assert.False(t, out[1].Has("_ref_AccountId_Name"))
	assert.False(t, out[2].Has("_ref_AccountId_Name"))
	assert.False(t, in[0].Has("_ref_AccountId_Name"), "input must not be modified")
}

func TestList(t *testing.T) {
	store := newSet(t, true)
	put(t, store, "prod/0401/Account.csv", []byte("Id\n"))
	sets, err := List(context.Background(), store, "prod", zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, "prod/0501", sets[0].Prefix)
	assert.Equal(t, "https://prod.example.com", sets[0].Source)
	assert.Equal(t, 2, sets[0].Objects)
}

package backup

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/restorekit/internal/compress"
	"github.com/rowjay/restorekit/internal/cryptoutil"
	"github.com/rowjay/restorekit/internal/record"
	"github.com/rowjay/restorekit/internal/storage"
	"github.com/rowjay/restorekit/internal/transform"
	"github.com/rowjay/restorekit/internal/util"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type dataFile struct {
	info        storage.ObjectInfo
	compression string
	encrypted   bool
}

// Set is one backup set: a storage prefix holding one CSV file per object.
type Set struct {
	store    storage.Storage
	prefix   string
	key      []byte
	log      zerolog.Logger
	manifest *Manifest
	idMap    *IDMapping
	files    map[string]dataFile
	config   string
}

// Open lists the prefix and reads the manifest and id mapping when present.
// A set without a manifest is still usable; objects are discovered from the
// data file names.
func Open(ctx context.Context, store storage.Storage, prefix string, key []byte, log zerolog.Logger) (*Set, error) {
	s := &Set{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		key:    key,
		log:    log.With().Str("component", "backup").Str("backup", prefix).Logger(),
		files:  map[string]dataFile{},
	}
	listPrefix := s.prefix
	if listPrefix != "" {
		listPrefix += "/"
	}
	infos, err := store.List(ctx, listPrefix)
	if err != nil {
		return nil, fmt.Errorf("list backup %s: %w", prefix, err)
	}
	var manifestKey, idMapKey string
	for _, info := range infos {
		rel := strings.TrimPrefix(strings.TrimPrefix(info.Key, s.prefix), "/")
		if strings.Contains(rel, "/") {
			continue
		}
		switch {
		case rel == ManifestFile:
			manifestKey = info.Key
		case rel == IDMappingFile:
			idMapKey = info.Key
		case isConfigFile(rel):
			if s.config == "" || configRank(rel) < configRank(path.Base(s.config)) {
				s.config = info.Key
			}
		default:
			if object, f, ok := parseDataFile(info); ok {
				s.files[object] = f
			}
		}
	}
	if len(s.files) == 0 && manifestKey == "" {
		return nil, fmt.Errorf("backup %s: no data files found", prefix)
	}
	if manifestKey != "" {
		if s.manifest, err = readJSON(ctx, store, manifestKey, decodeManifest); err != nil {
			return nil, err
		}
	}
	if idMapKey != "" {
		if s.idMap, err = readJSON(ctx, store, idMapKey, decodeIDMapping); err != nil {
			return nil, err
		}
	}
	s.log.Debug().Int("files", len(s.files)).Bool("manifest", s.manifest != nil).Msg("backup set opened")
	return s, nil
}

func readJSON[T any](ctx context.Context, store storage.Storage, key string, decode func(io.Reader) (T, error)) (T, error) {
	var zero T
	rc, err := store.Get(ctx, key)
	if err != nil {
		return zero, fmt.Errorf("read %s: %w", key, err)
	}
	defer rc.Close()
	return decode(rc)
}

// parseDataFile accepts <Object>.csv with optional compression and
// encryption suffixes, e.g. Account.csv.zst.enc.
func parseDataFile(info storage.ObjectInfo) (string, dataFile, bool) {
	name := info.Base()
	f := dataFile{info: info}
	name, f.encrypted = cryptoutil.SplitEncrypted(name)
	f.compression, name = compress.FromName(name)
	if !strings.HasSuffix(name, ".csv") || strings.HasPrefix(name, "_") {
		return "", dataFile{}, false
	}
	return strings.TrimSuffix(name, ".csv"), f, true
}

func isConfigFile(name string) bool {
	return configRank(name) >= 0
}

func configRank(name string) int {
	for i, n := range transform.ConfigFileNames {
		if n == name {
			return i
		}
	}
	return -1
}

func (s *Set) Prefix() string { return s.prefix }

// Manifest returns ErrManifestNotFound for sets exported without one.
func (s *Set) Manifest() (*Manifest, error) {
	if s.manifest == nil {
		return nil, ErrManifestNotFound
	}
	return s.manifest, nil
}

// IDMapping is nil when the set has none.
func (s *Set) IDMapping() *IDMapping { return s.idMap }

// Objects lists the objects with data files, in manifest order when a
// manifest exists and sorted by name otherwise.
func (s *Set) Objects() []string {
	var out []string
	seen := map[string]bool{}
	for _, o := range s.manifest.Order() {
		if _, ok := s.files[o]; ok && !seen[o] {
			seen[o] = true
			out = append(out, o)
		}
	}
	for _, o := range sortedNames(s.files) {
		if !seen[o] {
			out = append(out, o)
		}
	}
	return out
}

func (s *Set) Has(object string) bool {
	_, ok := s.files[object]
	return ok
}

// Size is the stored size in bytes of the object's data file.
func (s *Set) Size(object string) int64 {
	return s.files[object].info.Size
}

// Count is the manifest record count, or -1 when unknown.
func (s *Set) Count(object string) int64 {
	if s.manifest == nil {
		return -1
	}
	om, ok := s.manifest.Objects[object]
	if !ok {
		return -1
	}
	return om.RecordCount
}

// Records reads the object's data file. Empty cells become null values.
func (s *Set) Records(ctx context.Context, object string) ([]*record.Record, error) {
	f, ok := s.files[object]
	if !ok {
		return nil, fmt.Errorf("backup %s has no data for %s", s.prefix, object)
	}
	rc, err := s.store.Get(ctx, f.info.Key)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.info.Key, err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if f.encrypted {
		if len(s.key) == 0 {
			return nil, fmt.Errorf("%s is encrypted but no encryption key is configured", f.info.Key)
		}
		if r, err = cryptoutil.DecryptReader(r, s.key); err != nil {
			return nil, fmt.Errorf("decrypt %s: %w", f.info.Key, err)
		}
	}
	dr, err := compress.WrapReader(f.compression, r)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", f.info.Key, err)
	}
	defer dr.Close()

	records, err := parseRecords(dr)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.info.Key, err)
	}
	s.log.Debug().Str("object", object).Int("records", len(records)).Msg("records loaded")
	return records, nil
}

func parseRecords(r io.Reader) ([]*record.Record, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	header = append([]string(nil), header...)
	header[0] = string(bytes.TrimPrefix([]byte(header[0]), utf8BOM))

	var out []*record.Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		rec := record.New()
		for i, name := range header {
			if row[i] == "" {
				rec.Set(name, record.Null)
			} else {
				rec.SetString(name, row[i])
			}
		}
		out = append(out, rec)
	}
}

// TransformationConfig loads the mapping config shipped with the set. It
// returns nil without error when the set has none.
func (s *Set) TransformationConfig(ctx context.Context) (*transform.Config, error) {
	if s.config == "" {
		return nil, nil
	}
	rc, err := s.store.Get(ctx, s.config)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.config, err)
	}
	defer rc.Close()
	cfg, err := transform.Load(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.config, err)
	}
	return cfg, nil
}

// Summary describes a backup set found in storage.
type Summary struct {
	Prefix     string
	Source     string
	BackupType string
	Generated  string
	Objects    int
	SizeBytes  int64
}

// List finds backup sets under prefix by their manifests.
func List(ctx context.Context, store storage.Storage, prefix string, log zerolog.Logger) ([]Summary, error) {
	infos, err := store.List(ctx, strings.Trim(prefix, "/"))
	if err != nil {
		return nil, err
	}
	sizes := map[string]int64{}
	updated := map[string]time.Time{}
	var sets []string
	for _, info := range infos {
		dir := path.Dir(info.Key)
		if strings.Contains(dir, util.ReportsDir) {
			continue
		}
		sizes[dir] += info.Size
		if info.Modified.After(updated[dir]) {
			updated[dir] = info.Modified
		}
		if info.Base() == ManifestFile {
			sets = append(sets, dir)
		}
	}
	sort.Strings(sets)
	out := make([]Summary, 0, len(sets))
	for _, dir := range sets {
		m, err := readJSON(ctx, store, path.Join(dir, ManifestFile), decodeManifest)
		if err != nil {
			log.Warn().Err(err).Str("backup", dir).Msg("skipping unreadable manifest")
			continue
		}
		generated := m.Metadata.GeneratedAt
		if generated == "" && !updated[dir].IsZero() {
			generated = updated[dir].UTC().Format(time.RFC3339)
		}
		out = append(out, Summary{
			Prefix:     dir,
			Source:     m.Metadata.Source,
			BackupType: m.Metadata.BackupType,
			Generated:  generated,
			Objects:    len(m.Order()),
			SizeBytes:  sizes[dir],
		})
	}
	return out, nil
}

func sortedNames[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	ManifestFile  = "_backup_manifest.json"
	IDMappingFile = "_id_mapping.json"
)

var ErrManifestNotFound = errors.New("backup manifest not found")

// Manifest describes a backup set: where it came from, what it holds and the
// order the exporter recommends restoring it in.
type Manifest struct {
	Metadata      ManifestMetadata          `json:"metadata"`
	ParentObjects []string                  `json:"parentObjects,omitempty"`
	Related       []RelatedObject           `json:"relatedObjects,omitempty"`
	RestoreOrder  []string                  `json:"restoreOrder,omitempty"`
	Objects       map[string]ObjectManifest `json:"objects,omitempty"`
}

type ManifestMetadata struct {
	Version     string `json:"version"`
	GeneratedAt string `json:"generatedAt"`
	Source      string `json:"sourceInstanceUrl"`
	APIVersion  string `json:"apiVersion,omitempty"`
	BackupType  string `json:"backupType"` // standard, relationship-aware
}

type RelatedObject struct {
	Object      string `json:"objectName"`
	Parent      string `json:"parentObject"`
	ParentField string `json:"parentField"`
	Depth       int    `json:"depth"`
	Priority    bool   `json:"priority"`
}

type ObjectManifest struct {
	RecordCount            int64               `json:"recordCount"`
	FileName               string              `json:"fileName,omitempty"`
	RecommendedUpsertField string              `json:"recommendedUpsertField,omitempty"`
	NameField              string              `json:"nameField,omitempty"`
	ExternalIDFields       []ExternalIDField   `json:"externalIdFields,omitempty"`
	UniqueFields           []string            `json:"uniqueFields,omitempty"`
	RelationshipFields     []RelationshipEntry `json:"relationshipFields,omitempty"`
}

type ExternalIDField struct {
	Name string `json:"name"`
}

type RelationshipEntry struct {
	Field            string   `json:"fieldName"`
	RelationshipName string   `json:"relationshipName,omitempty"`
	ReferenceTo      []string `json:"referenceTo"`
	Polymorphic      bool     `json:"polymorphic,omitempty"`
}

func (m *Manifest) RelationshipAware() bool {
	return m != nil && m.Metadata.BackupType == "relationship-aware"
}

// UpsertField is the external id the exporter recommends for an object.
func (m *Manifest) UpsertField(object string) string {
	if m == nil {
		return ""
	}
	return m.Objects[object].RecommendedUpsertField
}

// Order lists the objects in the recommended restore order, followed by
// any object missing from it.
func (m *Manifest) Order() []string {
	if m == nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, o := range m.RestoreOrder {
		if !seen[o] {
			seen[o] = true
			out = append(out, o)
		}
	}
	for _, o := range sortedNames(m.Objects) {
		if !seen[o] {
			seen[o] = true
			out = append(out, o)
		}
	}
	return out
}

func decodeManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("parse backup manifest: %w", err)
	}
	return &m, nil
}

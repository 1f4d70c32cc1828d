package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/restorekit/internal/meta"
)

func TestSuggestPicklistMappings(t *testing.T) {
	got := SuggestPicklistMappings(
		[]string{"Prospecting", "closed won", "Hot", "Qualification"},
		[]string{"Prospect", "Closed Won", "Qualification"},
	)
	require.Len(t, got, 2)
	assert.Equal(t, "Prospecting", got[0].Source)
	assert.Equal(t, "Prospect", got[0].Target)
	assert.GreaterOrEqual(t, got[0].Score, 0.6)
	assert.Equal(t, "closed won", got[1].Source)
	assert.Equal(t, "Closed Won", got[1].Target)
	assert.Equal(t, 1.0, got[1].Score)

	cfg := &ObjectConfig{PicklistMappings: map[string]map[string]string{"StageName": {"Prospecting": "Open"}}}
	cfg.ApplyPicklistSuggestions("StageName", got)
	assert.Equal(t, "Open", cfg.PicklistMappings["StageName"]["Prospecting"])
	assert.Equal(t, "Closed Won", cfg.PicklistMappings["StageName"]["closed won"])
}

func TestSuggestRecordTypeMappings(t *testing.T) {
	source := []meta.RecordTypeInfo{
		{ID: "012S1", Name: "Enterprise", DeveloperName: "Enterprise_Account"},
		{ID: "012S2", Name: "Partner", DeveloperName: "Partner_Old"},
		{ID: "012S3", Name: "Zebra", DeveloperName: "Zebra"},
	}
	target := []meta.RecordTypeInfo{
		{ID: "012T1", Name: "Enterprise Customer", DeveloperName: "Enterprise_Account"},
		{ID: "012T2", Name: "Partner", DeveloperName: "Partner_New"},
	}
	got := SuggestRecordTypeMappings(source, target)
	require.Len(t, got, 2)
	assert.Equal(t, Suggestion{Source: "012S1", Target: "012T1", Score: 1, Reason: "developer name match"}, got[0])
	assert.Equal(t, "012T2", got[1].Target)
	assert.Equal(t, "name match", got[1].Reason)
}

func TestSuggestUserMappings(t *testing.T) {
	source := []Principal{
		{ID: "005S1", Email: "ada@example.com", Username: "ada@example.com.sandbox"},
		{ID: "005S2", Email: "old@example.com", Username: "grace@example.com.sandbox"},
		{ID: "005S3", Name: "Katherine Johnson"},
		{ID: "005S4", Name: "Nobody Known"},
	}
	target := []Principal{
		{ID: "005T1", Email: "ADA@example.com", Username: "ada@example.com"},
		{ID: "005T2", Email: "grace@example.com", Username: "grace@example.com"},
		{ID: "005T3", Name: "Katherine Johnsen"},
	}
	got := SuggestUserMappings(source, target)
	require.Len(t, got, 3)
	assert.Equal(t, "005T1", got[0].Target)
	assert.Equal(t, "email match", got[0].Reason)
	assert.Equal(t, "005T2", got[1].Target)
	assert.Equal(t, "username match", got[1].Reason)
	assert.Equal(t, "005T3", got[2].Target)
	assert.Equal(t, "similar name", got[2].Reason)
}

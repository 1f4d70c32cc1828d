package meta

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheDescribesOnce(t *testing.T) {
	static := NewStatic(Requires("Contact", "Account"))
	cache := NewCache(static)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			md, err := cache.Describe(context.Background(), "Contact")
			assert.NoError(t, err)
			assert.Equal(t, "Contact", md.Name)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, static.Calls("Contact"))
}

func TestCacheDoesNotKeepFailures(t *testing.T) {
	static := NewStatic()
	static.Failing["Account"] = true
	cache := NewCache(static)

	_, err := cache.Describe(context.Background(), "Account")
	require.Error(t, err)

	static.Failing["Account"] = false
	md, err := cache.Describe(context.Background(), "Account")
	require.NoError(t, err)
	assert.Equal(t, "Account", md.Name)
	assert.Equal(t, 2, static.Calls("Account"))
}

func TestRequiredReferences(t *testing.T) {
	md := Requires("OpportunityContactRole", "Contact", "Opportunity")
	md.Relationships = append(md.Relationships, RelationshipField{
		Field:       FieldInfo{Name: "WhatId", Type: TypeReference},
		ReferenceTo: []string{"Account", "Opportunity"},
	})
	refs := md.RequiredReferences()
	require.Len(t, refs, 2)
	assert.Equal(t, "ContactId", refs[0].Field.Name)

	rel, ok := md.Relationship("whatid")
	require.True(t, ok)
	assert.True(t, rel.Polymorphic())
	assert.Equal(t, "Id", md.PrimaryKey())
}

package services

import (
	"context"
	"testing"

	"feedbot/internal/testutil"
	apperrors "feedbot/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectory_LookupAbsent(t *testing.T) {
	f := newFixture(t)

	contact, err := f.directory.Lookup(context.Background(), "nobody@x.com")
	require.NoError(t, err)
	assert.Nil(t, contact)
}

func TestDirectory_AddAdminTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateTestContact(t, f.db, "c@x.com", false)

	change, err := f.directory.AddAdmin(ctx, "new@x.com")
	require.NoError(t, err)
	assert.Equal(t, AdminCreated, change)

	change, err = f.directory.AddAdmin(ctx, "C@X.com")
	require.NoError(t, err)
	assert.Equal(t, AdminPromoted, change)

	change, err = f.directory.AddAdmin(ctx, "c@x.com")
	require.NoError(t, err)
	assert.Equal(t, AdminUnchanged, change)

	contact, err := f.directory.Lookup(ctx, "c@x.com")
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.True(t, contact.IsAdmin)
}

func TestDirectory_AddContact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.directory.AddContact(ctx, "c@x.com")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = f.directory.AddContact(ctx, "c@x.com")
	require.NoError(t, err)
	assert.False(t, created)

	contact, err := f.directory.Lookup(ctx, "c@x.com")
	require.NoError(t, err)
	assert.False(t, contact.IsAdmin)
}

func TestDirectory_EmptyIdentityIsValidationError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.directory.AddContact(ctx, "  ")
	assert.True(t, apperrors.IsValidation(err))
	_, err = f.directory.AddAdmin(ctx, "")
	assert.True(t, apperrors.IsValidation(err))
	assert.True(t, apperrors.IsValidation(f.directory.RemoveAdmin(ctx, "")))
	_, err = f.directory.RemoveContact(ctx, "")
	assert.True(t, apperrors.IsValidation(err))
}

func TestDirectory_RemoveAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateTestContact(t, f.db, "admin@x.com", true)
	testutil.CreateTestContact(t, f.db, "c@x.com", false)

	require.NoError(t, f.directory.RemoveAdmin(ctx, "admin@x.com"))
	contact, err := f.directory.Lookup(ctx, "admin@x.com")
	require.NoError(t, err)
	require.NotNil(t, contact, "removing admin keeps the contact")
	assert.False(t, contact.IsAdmin)

	err = f.directory.RemoveAdmin(ctx, "c@x.com")
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, "Could not find admin c@x.com", apperrors.MessageOf(err))
}

func TestDirectory_RemoveContactCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateTestContact(t, f.db, "c@x.com", false)
	testutil.CreateTestContact(t, f.db, "d@x.com", false)
	testutil.CreateTestEntry(t, f.db, "c@x.com", "Acme", "a@x.com")
	testutil.CreateTestEntry(t, f.db, "c@x.com", "Beta", "b@x.com")
	testutil.CreateTestEntry(t, f.db, "d@x.com", "Acme", "other@x.com")

	removed, err := f.directory.RemoveContact(ctx, "c@x.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	contact, err := f.directory.Lookup(ctx, "c@x.com")
	require.NoError(t, err)
	assert.Nil(t, contact)
	assert.Equal(t, int64(1), testutil.CountEntries(t, f.db))

	_, err = f.directory.RemoveContact(ctx, "c@x.com")
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, "Contact c@x.com does not exist", apperrors.MessageOf(err))
}

func TestDirectory_UpsertSetAdminSetQuestion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.directory.UpsertContact(ctx, "c@x.com", false))
	require.NoError(t, f.directory.UpsertContact(ctx, "c@x.com", true))
	contact, err := f.directory.Lookup(ctx, "c@x.com")
	require.NoError(t, err)
	assert.True(t, contact.IsAdmin)

	require.NoError(t, f.directory.SetAdmin(ctx, "c@x.com", false))
	assert.True(t, apperrors.IsNotFound(f.directory.SetAdmin(ctx, "ghost@x.com", true)))

	q := "Ready?"
	require.NoError(t, f.directory.SetQuestion(ctx, "c@x.com", &q))
	contact, err = f.directory.Lookup(ctx, "c@x.com")
	require.NoError(t, err)
	assert.False(t, contact.IsAdmin)
	require.True(t, contact.HasQuestion())
	assert.Equal(t, "Ready?", *contact.CurrentQuestion)

	require.NoError(t, f.directory.SetQuestion(ctx, "c@x.com", nil))
	contact, err = f.directory.Lookup(ctx, "c@x.com")
	require.NoError(t, err)
	assert.False(t, contact.HasQuestion())

	assert.True(t, apperrors.IsNotFound(f.directory.SetQuestion(ctx, "ghost@x.com", &q)))
}

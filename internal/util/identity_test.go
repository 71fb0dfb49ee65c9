package util

import (
	"testing"

	"feedbot/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeIdentifier(t *testing.T) {
	assert.Equal(t, "a@x.com", NormalizeIdentifier("  A@X.com "))
}

func TestSplitEmails(t *testing.T) {
	got := SplitEmails(" b@x.com  A@x.com\ta@x.com  b@x.com ")
	assert.Equal(t, []string{"b@x.com", "a@x.com"}, got)
	assert.Empty(t, SplitEmails("   "))
}

func TestIsValidEmail(t *testing.T) {
	assert.True(t, IsValidEmail("a.b+c@x-y.com"))
	assert.False(t, IsValidEmail("not-an-email"))
	assert.False(t, IsValidEmail("a@x"))
}

func TestRequireContactAndAdmin(t *testing.T) {
	assert.Error(t, RequireContact(nil))
	assert.NoError(t, RequireContact(&domain.Contact{Identity: "c@x.com"}))

	assert.Error(t, RequireAdmin(nil))
	assert.Error(t, RequireAdmin(&domain.Contact{Identity: "c@x.com"}))
	assert.NoError(t, RequireAdmin(&domain.Contact{Identity: "a@x.com", IsAdmin: true}))
}

package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseIdentity(t *testing.T) {
	id := ParseIdentity(" Fan@Example.COM ")
	assert.Equal(t, IdentityEmail, id.Kind())
	assert.Equal(t, "fan@example.com", id.Value())
	assert.Equal(t, "email:fan@example.com", id.String())

	id = ParseIdentity("user-42")
	assert.Equal(t, IdentityUserID, id.Kind())
	assert.Equal(t, "user-42", id.Value())
	assert.Equal(t, "user:user-42", id.String())

	assert.True(t, ParseIdentity("  ").IsZero())
	assert.Equal(t, "", SubscriberIdentity{}.String())
}

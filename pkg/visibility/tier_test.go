package visibility_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personify-ai/converse-go/pkg/visibility"
)

func TestTierOrdering(t *testing.T) {
	assert.True(t, visibility.TierPublic < visibility.TierFriends)
	assert.True(t, visibility.TierFriends < visibility.TierIntimate)
}

func TestTierAllows(t *testing.T) {
	// Every tier sees public content.
	assert.True(t, visibility.TierPublic.Allows(visibility.TierPublic))
	assert.True(t, visibility.TierFriends.Allows(visibility.TierPublic))
	assert.True(t, visibility.TierIntimate.Allows(visibility.TierPublic))

	// Public callers never see elevated content.
	assert.False(t, visibility.TierPublic.Allows(visibility.TierFriends))
	assert.False(t, visibility.TierPublic.Allows(visibility.TierIntimate))

	// Friends callers see friends but not intimate content.
	assert.True(t, visibility.TierFriends.Allows(visibility.TierFriends))
	assert.False(t, visibility.TierFriends.Allows(visibility.TierIntimate))

	// The owner tier sees everything.
	assert.True(t, visibility.TierIntimate.Allows(visibility.TierIntimate))
}

func TestParseTier(t *testing.T) {
	cases := map[string]visibility.Tier{
		"public":   visibility.TierPublic,
		"friends":  visibility.TierFriends,
		"intimate": visibility.TierIntimate,
	}
	for name, want := range cases {
		got, err := visibility.ParseTier(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, name, got.String())
	}

	_, err := visibility.ParseTier("secret")
	assert.Error(t, err)
}

func TestTierJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(visibility.TierFriends)
	require.NoError(t, err)
	assert.Equal(t, `"friends"`, string(data))

	var parsed visibility.Tier
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, visibility.TierFriends, parsed)

	var invalid visibility.Tier
	assert.Error(t, json.Unmarshal([]byte(`"secret"`), &invalid))
}

func TestTierValid(t *testing.T) {
	assert.True(t, visibility.TierPublic.Valid())
	assert.False(t, visibility.Tier(42).Valid())
}

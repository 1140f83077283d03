package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminConfig_ToJSONFromJSONRoundTrip(t *testing.T) {
	cfg := DefaultAdminConfig()
	cfg.MinConfirmations = 3
	cfg.SigningStrategy = SigningStrategy{Kind: SigningStrategyManaged, ManagedID: "production"}

	data, err := cfg.ToJSON()
	require.NoError(t, err)

	got, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, cfg.MinConfirmations, got.MinConfirmations)
	assert.Equal(t, cfg.SigningStrategy, got.SigningStrategy)
}

func TestFromJSON_RejectsMalformedData(t *testing.T) {
	_, err := FromJSON([]byte("not json"))
	assert.Error(t, err)
}

func TestDefaultAdminConfig_MatchesDocumentedFallbacks(t *testing.T) {
	cfg := DefaultAdminConfig()
	assert.Equal(t, uint32(6), cfg.MinConfirmations)
	assert.Equal(t, uint32(50), cfg.MaxBatch)
	assert.Equal(t, SigningStrategyLocal, cfg.SigningStrategy.Kind)
}

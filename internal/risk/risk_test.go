package risk

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_RoundTripsEveryName(t *testing.T) {
	for _, l := range Levels() {
		parsed, err := Parse(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, parsed)
	}
	_, err := Parse("severe")
	assert.Error(t, err)
}

func TestLevel_JSON(t *testing.T) {
	out, err := json.Marshal(map[string]Level{"risk": High})
	require.NoError(t, err)
	assert.JSONEq(t, `{"risk":"high"}`, string(out))

	var in struct {
		Risk Level `json:"risk"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"risk":"Critical"}`), &in))
	assert.Equal(t, Critical, in.Risk)

	_, err = json.Marshal(Level(9))
	assert.Error(t, err)
}

func TestMax(t *testing.T) {
	assert.Equal(t, High, Max(Low, High))
	assert.Equal(t, Medium, Max(Medium, Low))
	assert.True(t, Critical > High)
}

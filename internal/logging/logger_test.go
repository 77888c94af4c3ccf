package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFiltersByLevelAndTagsService(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "pickup-api", "WARN")

	log.Info("dropped")
	log.Warn("kept", "order_id", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "pickup-api", rec["service"])
	assert.EqualValues(t, 3, rec["order_id"])
}

package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cortexmem/internal/cortextypes"
)

func TestBuildPayloadFlattensFilterableFields(t *testing.T) {
	meta := cortextypes.NewMemoryMetadata(cortextypes.MemorySemantic)
	meta.UserID = "alice"
	meta.AgentID = "agent-1"
	meta.RunID = "run-7"
	meta.Custom = map[string]any{"layer": string(cortextypes.LayerDetail)}

	rec := Record{ID: "cortex://user/alice/memories/a.md#detail", Content: "some memory", Metadata: meta}

	payload, err := buildPayload(rec)
	require.NoError(t, err)

	// These must be top-level so Search's qdrant.NewMatch(key, val)
	// conditions actually find the point.
	assert.Equal(t, "alice", payload["user_id"])
	assert.Equal(t, "agent-1", payload["agent_id"])
	assert.Equal(t, "run-7", payload["run_id"])
	assert.Equal(t, string(cortextypes.LayerDetail), payload["layer"])

	assert.Equal(t, rec.ID, payload[payloadIDField])
	assert.Equal(t, rec.Content, payload[payloadContentField])
	assert.Contains(t, payload[payloadMetaField], "alice")
}

func TestBuildPayloadOmitsEmptyFilterableFields(t *testing.T) {
	rec := Record{ID: "id1", Content: "content", Metadata: cortextypes.NewMemoryMetadata(cortextypes.MemoryEpisodic)}

	payload, err := buildPayload(rec)
	require.NoError(t, err)

	_, hasUser := payload["user_id"]
	_, hasAgent := payload["agent_id"]
	_, hasRun := payload["run_id"]
	assert.False(t, hasUser)
	assert.False(t, hasAgent)
	assert.False(t, hasRun)
}

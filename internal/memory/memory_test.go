package memory

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/colony/pkg/types"
)

func TestCreepLazyCreate(t *testing.T) {
	m := New()

	_, ok := m.PeekCreep("a")
	assert.False(t, ok)

	mem := m.Creep("a")
	mem.Role = "harvester"
	assert.Equal(t, "harvester", m.Creep("a").Role)

	m.ForgetCreep("a")
	_, ok = m.PeekCreep("a")
	assert.False(t, ok)
}

func TestJobsRoundTripThroughJSON(t *testing.T) {
	m := New()
	m.SaveJobs([]*types.Job{
		{ID: "a", Type: "harvest_job", Active: true, X: -1, Y: -1, Creep: &types.CreepJob{AssignedCreep: "c1"}},
		{ID: "b", Type: "spawn_builder_job", Active: true, Spawn: &types.SpawnJob{Role: "builder", State: types.SpawnMovingToPosition}},
	})

	raw, err := json.Marshal(m)
	require.NoError(t, err)

	var loaded Memory
	require.NoError(t, json.Unmarshal(raw, &loaded))
	loaded.Normalize()

	jobs := loaded.LoadJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, types.VariantCreep, jobs[0].Variant())
	assert.Equal(t, "c1", jobs[0].Creep.AssignedCreep)
	assert.Equal(t, types.SpawnMovingToPosition, jobs[1].Spawn.State)
	assert.NotNil(t, loaded.Creeps)
}

func TestRecordDurationSmooths(t *testing.T) {
	m := New()
	assert.Equal(t, 100.0, m.RecordDuration("build_job", 100))
	assert.InDelta(t, 91.0, m.RecordDuration("build_job", 10), 1e-9)
	assert.InDelta(t, 91.0, m.Stats["build_job"], 1e-9)
}

func TestMetadataVersionReset(t *testing.T) {
	m := New()
	md := m.Metadata("R1")
	md.Flags = types.MetaWalls | types.MetaExits
	assert.True(t, m.IsMetadataReady("R1", types.MetaWalls))
	assert.True(t, m.IsMetadataReady("R1", types.MetaWalls|types.MetaExits))
	assert.False(t, m.IsMetadataReady("R1", types.MetaRoads))
	assert.False(t, m.IsMetadataReady("R2", types.MetaWalls))

	m.Rooms["R1"].Metadata.Version = MetadataVersion - 1
	assert.False(t, m.IsMetadataReady("R1", types.MetaWalls))

	fresh := m.Metadata("R1")
	assert.Equal(t, MetadataVersion, fresh.Version)
	assert.Equal(t, types.MetadataFlags(0), fresh.Flags)
}

package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/colony/internal/world"
	"github.com/ChuLiYu/colony/pkg/geom"
)

func newTestWorld(t *testing.T) *World {
	t.Helper()
	w := New()
	w.AddRoom("R1", nil)
	w.SetController("R1", geom.Pos{X: 40, Y: 40}, 2)
	return w
}

func worker(name string, p geom.Pos) world.Creep {
	return world.Creep{
		Name: name, Room: "R1", Pos: p, My: true,
		Body: []string{world.Work, world.Carry, world.Move},
	}
}

func TestSpawnLifecycle(t *testing.T) {
	w := newTestWorld(t)
	w.AddSpawner("S1", "R1", geom.Pos{X: 25, Y: 25}, 300, 300)

	name, res := w.SpawnCreep("S1", []string{world.Work, world.Move}, "")
	require.Equal(t, world.OK, res)
	assert.NotEmpty(t, name)

	s, _ := w.Spawner("S1")
	assert.Equal(t, name, s.Spawning)
	assert.Equal(t, 150, s.Energy)

	_, res = w.SpawnCreep("S1", []string{world.Move}, "")
	assert.Equal(t, world.OtherFailure, res, "busy spawner")

	for i := 0; i < 2*SpawnTicksPerPart; i++ {
		w.Step()
	}
	s, _ = w.Spawner("S1")
	assert.Empty(t, s.Spawning)

	c, ok := w.Creep(name)
	require.True(t, ok)
	assert.False(t, c.Spawning)
	assert.Equal(t, 1, geom.Range(c.Pos, s.Pos))
}

func TestSpawnRejections(t *testing.T) {
	w := newTestWorld(t)
	w.AddSpawner("S1", "R1", geom.Pos{X: 25, Y: 25}, 100, 300)

	_, res := w.SpawnCreep("S1", []string{world.Work, world.Move}, "x")
	assert.Equal(t, world.NotEnoughResources, res)

	_, res = w.SpawnCreep("missing", []string{world.Move}, "x")
	assert.Equal(t, world.InvalidTarget, res)

	_, res = w.SpawnCreep("S1", nil, "x")
	assert.Equal(t, world.InvalidTarget, res)
}

func TestHarvestResults(t *testing.T) {
	w := newTestWorld(t)
	w.AddSource("src", "R1", geom.Pos{X: 10, Y: 10}, 4)
	w.AddCreep(worker("a", geom.Pos{X: 11, Y: 11}))
	w.AddCreep(worker("far", geom.Pos{X: 20, Y: 20}))

	assert.Equal(t, world.NotInRange, w.Harvest("far", "src"))
	assert.Equal(t, world.InvalidTarget, w.Harvest("a", "nope"))

	assert.Equal(t, world.OK, w.Harvest("a", "src"))
	assert.Equal(t, world.OK, w.Harvest("a", "src"))
	assert.Equal(t, world.NotEnoughResources, w.Harvest("a", "src"))

	c, _ := w.Creep("a")
	assert.Equal(t, 4, c.Energy)
}

func TestHarvestFull(t *testing.T) {
	w := newTestWorld(t)
	w.AddSource("src", "R1", geom.Pos{X: 10, Y: 10}, 3000)
	c := worker("a", geom.Pos{X: 10, Y: 11})
	c.Energy = 50
	w.AddCreep(c)

	assert.Equal(t, world.Full, w.Harvest("a", "src"))
}

func TestMoveTo(t *testing.T) {
	w := newTestWorld(t)
	w.AddCreep(worker("a", geom.Pos{X: 5, Y: 5}))

	assert.Equal(t, world.OK, w.MoveTo("a", "R1", geom.Pos{X: 8, Y: 5}))
	assert.Equal(t, world.Tired, w.MoveTo("a", "R1", geom.Pos{X: 8, Y: 5}), "one step per tick")

	c, _ := w.Creep("a")
	assert.Equal(t, 1, geom.Range(c.Pos, geom.Pos{X: 5, Y: 5}))
	assert.Equal(t, 2, geom.Range(c.Pos, geom.Pos{X: 8, Y: 5}))

	assert.Equal(t, world.InvalidTarget, w.MoveTo("ghost", "R1", geom.Pos{X: 1, Y: 1}))
}

func TestMoveBlockedByCreep(t *testing.T) {
	w := newTestWorld(t)
	w.AddCreep(worker("a", geom.Pos{X: 5, Y: 5}))
	w.AddCreep(worker("b", geom.Pos{X: 6, Y: 5}))

	assert.Equal(t, world.Tired, w.MoveTo("a", "R1", geom.Pos{X: 6, Y: 5}))
}

func TestBuildCompletesSite(t *testing.T) {
	w := newTestWorld(t)
	site := w.AddSite("R1", geom.Pos{X: 12, Y: 12}, world.StructureRoad, 5)
	c := worker("a", geom.Pos{X: 10, Y: 10})
	c.Energy = 50
	w.AddCreep(c)

	assert.Equal(t, world.OK, w.Build("a", site))
	_, ok := w.Site(site)
	assert.False(t, ok)
	assert.Len(t, w.Structures("R1"), 1)
	assert.Equal(t, world.InvalidTarget, w.Build("a", site))
}

func TestCreateSiteLimits(t *testing.T) {
	w := newTestWorld(t)
	w.UpdateController("R1", func(c *world.Controller) { c.Level = 1 })

	assert.Equal(t, world.InsufficientLevel, w.CreateSite("R1", geom.Pos{X: 3, Y: 3}, world.StructureExtension))
	assert.Equal(t, world.OK, w.CreateSite("R1", geom.Pos{X: 3, Y: 3}, world.StructureRoad))
	assert.Equal(t, world.InvalidTarget, w.CreateSite("R1", geom.Pos{X: 3, Y: 3}, world.StructureRoad))
}

func TestTransferToController(t *testing.T) {
	w := newTestWorld(t)
	c := worker("a", geom.Pos{X: 38, Y: 38})
	c.Energy = 50
	w.AddCreep(c)
	w.UpdateController("R1", func(c *world.Controller) { c.TicksToDowngrade = 10 })

	ctrl, _ := w.Controller("R1")
	assert.Equal(t, world.OK, w.Transfer("a", ctrl.ID))
	ctrl, _ = w.Controller("R1")
	assert.Equal(t, DowngradeTicks, ctrl.TicksToDowngrade)
	assert.Equal(t, world.NotEnoughResources, w.Transfer("a", ctrl.ID))
}

func TestCreepsAge(t *testing.T) {
	w := newTestWorld(t)
	c := worker("old", geom.Pos{X: 1, Y: 1})
	c.TicksToLive = 1
	w.AddCreep(c)

	w.Step()
	_, ok := w.Creep("old")
	assert.False(t, ok)
}

func TestNewColonyDeterministic(t *testing.T) {
	opts := DefaultColonyOptions()
	a := NewColony(opts)
	b := NewColony(opts)

	for _, room := range a.Rooms() {
		for i := 0; i < geom.RoomSize*geom.RoomSize; i++ {
			p := geom.FromIndex(i)
			require.Equal(t, a.IsWall(room, p), b.IsWall(room, p))
		}
		spawns := a.Spawners()
		require.Len(t, spawns, 1)
		assert.False(t, a.IsWall(room, spawns[0].Pos))
	}
	assert.Len(t, a.Sources("R1"), 2)
}

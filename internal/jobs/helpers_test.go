package jobs

import (
	"math/rand"

	"github.com/ChuLiYu/colony/internal/logging"
	"github.com/ChuLiYu/colony/internal/memory"
	"github.com/ChuLiYu/colony/internal/settings"
	"github.com/ChuLiYu/colony/internal/world"
	"github.com/ChuLiYu/colony/internal/world/sim"
	"github.com/ChuLiYu/colony/pkg/geom"
)

var (
	spawnPos  = geom.Pos{X: 25, Y: 25}
	sourcePos = geom.Pos{X: 10, Y: 10}
	ctrlPos   = geom.Pos{X: 40, Y: 40}
)

// testWorld is one open room with a spawner, a source and a level 2
// controller.
func testWorld() *sim.World {
	w := sim.New()
	w.AddRoom("R1", nil)
	w.SetController("R1", ctrlPos, 2)
	w.AddSpawner("Spawn1", "R1", spawnPos, 300, 300)
	w.AddSource("src", "R1", sourcePos, 3000)
	return w
}

func testEnv(w world.World) *Env {
	return NewEnv(w, memory.New(), settings.Defaults(), logging.Discard(), rand.New(rand.NewSource(7)))
}

func addWorker(w *sim.World, name string, p geom.Pos) {
	w.AddCreep(world.Creep{
		Name: name,
		Room: "R1",
		Pos:  p,
		My:   true,
		Body: []string{world.Work, world.Carry, world.Move},
	})
}

// scripted forces action results so state machines can be driven through
// every branch.
type scripted struct {
	*sim.World
	harvest *world.Result
	build   *world.Result
	move    *world.Result
}

func result(r world.Result) *world.Result { return &r }

func (s *scripted) Harvest(creep, sourceID string) world.Result {
	if s.harvest != nil {
		return *s.harvest
	}
	return s.World.Harvest(creep, sourceID)
}

func (s *scripted) Build(creep, siteID string) world.Result {
	if s.build != nil {
		return *s.build
	}
	return s.World.Build(creep, siteID)
}

func (s *scripted) MoveTo(creep, room string, to geom.Pos) world.Result {
	if s.move != nil {
		return *s.move
	}
	return s.World.MoveTo(creep, room, to)
}

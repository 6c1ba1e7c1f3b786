package sim

import (
	"fmt"
	"math/rand"

	"github.com/ChuLiYu/colony/internal/world"
	"github.com/ChuLiYu/colony/pkg/geom"
)

// ColonyOptions shape the generated starting position.
type ColonyOptions struct {
	Seed           int64
	Rooms          int
	SourcesPerRoom int
	StartingCreeps int
	SpawnEnergy    int
	ControllerLvl  int
}

// DefaultColonyOptions returns a one-room colony at level 2.
func DefaultColonyOptions() ColonyOptions {
	return ColonyOptions{
		Seed:           1,
		Rooms:          1,
		SourcesPerRoom: 2,
		StartingCreeps: 2,
		SpawnEnergy:    300,
		ControllerLvl:  2,
	}
}

// NewColony generates a deterministic world for the given options.
func NewColony(opts ColonyOptions) *World {
	if opts.Rooms <= 0 {
		opts.Rooms = 1
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	w := New()

	for i := 0; i < opts.Rooms; i++ {
		name := fmt.Sprintf("R%d", i+1)
		w.AddNoiseRoom(name, opts.Seed+int64(i)*7919)

		center := geom.Center()
		w.Clear(name, center, 4)
		w.AddSpawner("Spawn"+name, name, center, opts.SpawnEnergy, 300)

		ctrl := randomInner(rng, 8)
		w.Clear(name, ctrl, 1)
		w.SetController(name, ctrl, opts.ControllerLvl)

		for s := 0; s < opts.SourcesPerRoom; s++ {
			p := randomInner(rng, 5)
			w.Clear(name, p, 1)
			w.AddSource(fmt.Sprintf("source-%s-%d", name, s), name, p, 3000)
		}

		for c := 0; c < opts.StartingCreeps; c++ {
			w.AddCreep(world.Creep{
				Name: fmt.Sprintf("%s-worker-%d", name, c),
				Room: name,
				Pos:  geom.Add(center, geom.Pos{X: c + 1, Y: 2}),
				My:   true,
				Body: []string{world.Work, world.Carry, world.Move, world.Move},
			})
		}
	}
	return w
}

func randomInner(rng *rand.Rand, margin int) geom.Pos {
	span := geom.RoomSize - 2*margin
	return geom.Pos{X: margin + rng.Intn(span), Y: margin + rng.Intn(span)}
}

package app

import (
	"slices"

	"rewind/internal/checksum"
	"rewind/internal/driver"
	"rewind/internal/input"
	"rewind/internal/rollback"
	"rewind/internal/session"
	"rewind/internal/snapshot"
	"rewind/internal/world"
)

const (
	arenaSize     int32 = 1 << 16
	acceleration  int32 = 48
	maxSpeed      int32 = 512
	trailInterval       = 30
	trailLifetime       = 90
)

// Transform is a position in fixed-point arena units.
type Transform struct {
	X, Y int32
}

// Velocity is the per-frame displacement of a box.
type Velocity struct {
	X, Y int32
}

// Player marks the box steered by a session player handle.
type Player struct {
	Handle uint8
}

// Trail is a short-lived marker a moving box leaves behind.
type Trail struct {
	Owner rollback.Entity
}

// MapEntities points the trail at its owner's current entity after a load.
func (t Trail) MapEntities(m rollback.EntityMap) Trail {
	t.Owner = m.Map(t.Owner)
	return t
}

// Lifetime counts down the frames a trail has left.
type Lifetime struct {
	Frames uint16
}

// FrameCount is the number of frames simulated in the current timeline.
type FrameCount struct {
	Frame uint32
}

// Distance accumulates how far each player has travelled.
type Distance map[uint8]uint64

// Clone returns an independent copy.
func (d Distance) Clone() Distance {
	out := make(Distance, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Game is a deterministic example simulation: one box per player, steered
// with WASD, leaving trails that expire.
type Game struct {
	world      *world.World
	transforms *world.Components[Transform]
	velocities *world.Components[Velocity]
	players    *world.Components[Player]
	trails     *world.Components[Trail]
	lifetimes  *world.Components[Lifetime]
	frames     *world.Resource[FrameCount]
	rng        *world.Resource[world.RNG]
	distance   *world.Resource[Distance]
}

// NewGame creates the game state in w and registers every rolled-back kind
// with registry.
func NewGame(w *world.World, registry *rollback.Registry, seed string) *Game {
	g := &Game{
		world:      w,
		transforms: world.NewComponents[Transform](w),
		velocities: world.NewComponents[Velocity](w),
		players:    world.NewComponents[Player](w),
		trails:     world.NewComponents[Trail](w),
		lifetimes:  world.NewComponents[Lifetime](w),
		frames:     world.NewResource[FrameCount](),
		rng:        world.NewResource[world.RNG](),
		distance:   world.NewResource[Distance](),
	}
	g.frames.Set(FrameCount{})
	g.rng.Set(world.NewRNG(seed, "game"))
	g.distance.Set(Distance{})

	transforms := rollback.RegisterComponent[Transform](registry, "transform", g.transforms, snapshot.Copy[Transform]{})
	rollback.ChecksumComponent(registry, transforms, nil)
	velocities := rollback.RegisterComponent[Velocity](registry, "velocity", g.velocities, snapshot.Copy[Velocity]{})
	rollback.ChecksumComponent(registry, velocities, nil)
	rollback.RegisterComponent[Player](registry, "player", g.players, snapshot.Copy[Player]{})
	trails := rollback.RegisterComponent[Trail](registry, "trail", g.trails, snapshot.Copy[Trail]{})
	rollback.MapComponentEntities(registry, trails)
	types := snapshot.NewTypeRegistry()
	snapshot.RegisterCopy[Lifetime](types)
	rollback.RegisterComponent[Lifetime](registry, "lifetime", g.lifetimes, snapshot.NewReflect[Lifetime](types))

	frames := rollback.RegisterResource[FrameCount](registry, "frame_count", g.frames, snapshot.Copy[FrameCount]{})
	rollback.ChecksumResource(registry, frames, nil)
	rng := rollback.RegisterResource[world.RNG](registry, "rng", g.rng, snapshot.Copy[world.RNG]{})
	rollback.ChecksumResource(registry, rng, nil)
	distance := rollback.RegisterResource[Distance](registry, "distance", g.distance, snapshot.Clone[Distance]{})
	rollback.ChecksumResource(registry, distance, hashDistance)
	return g
}

func hashDistance(h *checksum.Hasher, d Distance) {
	handles := make([]uint8, 0, len(d))
	for handle := range d {
		handles = append(handles, handle)
	}
	slices.Sort(handles)
	for _, handle := range handles {
		h.WriteUint32(uint32(handle))
		h.WriteUint64(d[handle])
	}
}

// SpawnPlayers creates one box per player, spread along the arena diagonal.
func (g *Game) SpawnPlayers(n int) {
	for i := 0; i < n; i++ {
		e := g.world.SpawnTagged()
		offset := arenaSize / int32(n+1) * int32(i+1)
		g.transforms.Set(e, Transform{X: offset, Y: offset})
		g.velocities.Set(e, Velocity{})
		g.players.Set(e, Player{Handle: uint8(i)})
	}
}

// Step advances the game one frame.
func (g *Game) Step(ctx driver.AdvanceContext[input.KeyboardAndMouseInput]) {
	frame := uint32(0)
	g.frames.Update(func(f *FrameCount) {
		f.Frame++
		frame = f.Frame
	})

	g.expireTrails()

	g.players.Each(func(e rollback.Entity, p Player) {
		var in input.KeyboardAndMouseInput
		if int(p.Handle) < len(ctx.Inputs) && ctx.Inputs[p.Handle].Status != session.StatusDisconnected {
			in = ctx.Inputs[p.Handle].Input
		}
		g.move(e, p, in)
		if frame%trailInterval == 0 {
			g.spawnTrail(e)
		}
	})
}

func (g *Game) move(e rollback.Entity, p Player, in input.KeyboardAndMouseInput) {
	var dx, dy int32
	if in.Keyboard.Get(input.KeyW) {
		dy--
	}
	if in.Keyboard.Get(input.KeyS) {
		dy++
	}
	if in.Keyboard.Get(input.KeyA) {
		dx--
	}
	if in.Keyboard.Get(input.KeyD) {
		dx++
	}

	g.velocities.Update(e, func(v *Velocity) {
		v.X = clamp(v.X*15/16+dx*acceleration, -maxSpeed, maxSpeed)
		v.Y = clamp(v.Y*15/16+dy*acceleration, -maxSpeed, maxSpeed)
	})
	v, _ := g.velocities.Get(e)
	g.transforms.Update(e, func(t *Transform) {
		t.X = clamp(t.X+v.X, 0, arenaSize)
		t.Y = clamp(t.Y+v.Y, 0, arenaSize)
	})
	g.distance.Update(func(d *Distance) {
		(*d)[p.Handle] += uint64(abs(v.X) + abs(v.Y))
	})
}

func (g *Game) spawnTrail(owner rollback.Entity) {
	at, ok := g.transforms.Get(owner)
	if !ok {
		return
	}
	jitter := uint16(0)
	g.rng.Update(func(r *world.RNG) { jitter = uint16(r.Intn(trailInterval)) })

	e := g.world.SpawnTagged()
	g.transforms.Set(e, at)
	g.trails.Set(e, Trail{Owner: owner})
	g.lifetimes.Set(e, Lifetime{Frames: trailLifetime + jitter})
}

func (g *Game) expireTrails() {
	var expired []rollback.Entity
	g.lifetimes.Each(func(e rollback.Entity, l Lifetime) {
		if l.Frames <= 1 {
			expired = append(expired, e)
			return
		}
		g.lifetimes.Set(e, Lifetime{Frames: l.Frames - 1})
	})
	for _, e := range expired {
		g.world.Despawn(e)
	}
}

// Snapshot describes the visible state of the game.
type Snapshot struct {
	Frame   uint32
	Players []Transform
	Trails  int
}

// Snapshot reports the boxes in handle order and the live trail count.
func (g *Game) Snapshot() Snapshot {
	frames, _ := g.frames.Get()
	out := Snapshot{Frame: frames.Frame, Trails: g.trails.Len()}
	g.players.Each(func(e rollback.Entity, p Player) {
		t, _ := g.transforms.Get(e)
		for len(out.Players) <= int(p.Handle) {
			out.Players = append(out.Players, Transform{})
		}
		out.Players[p.Handle] = t
	})
	return out
}

func clamp(v, lo, hi int32) int32 {
	return max(lo, min(v, hi))
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// ScriptedInput returns an input source that wanders between WASD
// combinations, changing direction every few dozen frames. It stands in for
// a real device and is deterministic for a given seed.
func ScriptedInput(seed string) driver.InputSource[input.KeyboardAndMouseInput] {
	directions := [][]input.KeyCode{
		{input.KeyW}, {input.KeyW, input.KeyD}, {input.KeyD}, {input.KeyS, input.KeyD},
		{input.KeyS}, {input.KeyS, input.KeyA}, {input.KeyA}, {input.KeyW, input.KeyA},
		nil,
	}
	type script struct {
		rng       world.RNG
		remaining int
		current   input.KeyboardAndMouseInput
	}
	scripts := make(map[session.PlayerHandle]*script)
	return func(handle session.PlayerHandle) input.KeyboardAndMouseInput {
		s, ok := scripts[handle]
		if !ok {
			s = &script{rng: world.NewRNG(seed, "input")}
			for i := 0; i < int(handle); i++ {
				s.rng.Uint64()
			}
			scripts[handle] = s
		}
		if s.remaining <= 0 {
			s.remaining = 20 + s.rng.Intn(40)
			keys := directions[s.rng.Intn(len(directions))]
			s.current = input.KeyboardAndMouseFrom(input.DeviceState{Keys: keys})
		}
		s.remaining--
		return s.current
	}
}

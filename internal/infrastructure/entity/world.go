// Package entity is the in-memory world backend: entity positions, block
// grid and chat. Pathing is simulated by advancing entities a fixed step
// toward their destination on every arrival check.
package entity

import (
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/session-hub/session-hub/internal/domain/geo"
)

var (
	ErrBlockOccupied = fmt.Errorf("block position already occupied")
	ErrBlockAbsent   = fmt.Errorf("no block at position")
	ErrNotSpawned    = fmt.Errorf("entity not spawned")
)

// stepPerCheck is how far an entity advances toward its destination on each
// ReachedDestination poll.
const stepPerCheck = 4.0

const arrivalEpsilon = 0.25

type entityState struct {
	pos    geo.Position
	pathed bool
}

type blockKey struct {
	x, y, z int
}

func keyFor(pos geo.Position) blockKey {
	return blockKey{int(pos.X), int(pos.Y), int(pos.Z)}
}

// ChatLine is one spoken message, retained for the operator API.
type ChatLine struct {
	AgentKey string `json:"agentKey"`
	Message  string `json:"message"`
}

const chatHistory = 128

// World holds all entity and block state. Mutations run on the main loop;
// the mutex exists so operator API handlers can read snapshots off-loop.
type World struct {
	mu       sync.RWMutex
	entities map[string]*entityState
	blocks   map[blockKey]string
	chat     []ChatLine
	logger   zerolog.Logger
}

func NewWorld(logger zerolog.Logger) *World {
	return &World{
		entities: make(map[string]*entityState),
		blocks:   make(map[blockKey]string),
		logger:   logger.With().Str("component", "world").Logger(),
	}
}

// Spawn places an entity into the world at the given position.
func (w *World) Spawn(agentKey string, at geo.Position) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entities[agentKey] = &entityState{pos: at}
	w.logger.Info().Str("agent_key", agentKey).Str("position", at.String()).Msg("entity spawned")
}

// Despawn removes an entity from the world.
func (w *World) Despawn(agentKey string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entities, agentKey)
	w.logger.Info().Str("agent_key", agentKey).Msg("entity despawned")
}

func (w *World) Position(agentKey string) (geo.Position, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	e, ok := w.entities[agentKey]
	if !ok {
		return geo.Position{}, false
	}
	return e.pos, true
}

// StartPath begins pathing toward dest. The simulated world can always
// path; only an unspawned entity fails.
func (w *World) StartPath(agentKey string, dest geo.Position) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entities[agentKey]
	if !ok {
		return false
	}
	e.pathed = true
	return true
}

// ReachedDestination advances the entity one step toward dest and reports
// arrival. An entity with no active path is checked against its current
// position only.
func (w *World) ReachedDestination(agentKey string, dest geo.Position) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entities[agentKey]
	if !ok {
		return false
	}
	dx := dest.X - e.pos.X
	dy := dest.Y - e.pos.Y
	dz := dest.Z - e.pos.Z
	distSq := dx*dx + dy*dy + dz*dz
	if distSq <= arrivalEpsilon*arrivalEpsilon {
		e.pos = dest
		e.pathed = false
		return true
	}
	if !e.pathed {
		return false
	}
	dist := math.Sqrt(distSq)
	step := stepPerCheck
	if step >= dist {
		e.pos = dest
		e.pathed = false
		return true
	}
	scale := step / dist
	e.pos.X += dx * scale
	e.pos.Y += dy * scale
	e.pos.Z += dz * scale
	return false
}

func (w *World) PlaceBlock(agentKey string, pos geo.Position, material string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.entities[agentKey]; !ok {
		return fmt.Errorf("place block by %s: %w", agentKey, ErrNotSpawned)
	}
	key := keyFor(pos)
	if _, occupied := w.blocks[key]; occupied {
		return fmt.Errorf("place %s at %s: %w", material, pos.String(), ErrBlockOccupied)
	}
	w.blocks[key] = material
	return nil
}

func (w *World) RemoveBlock(agentKey string, pos geo.Position) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.entities[agentKey]; !ok {
		return fmt.Errorf("remove block by %s: %w", agentKey, ErrNotSpawned)
	}
	key := keyFor(pos)
	if _, ok := w.blocks[key]; !ok {
		return fmt.Errorf("remove at %s: %w", pos.String(), ErrBlockAbsent)
	}
	delete(w.blocks, key)
	return nil
}

func (w *World) Say(agentKey, message string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.entities[agentKey]; !ok {
		return fmt.Errorf("say by %s: %w", agentKey, ErrNotSpawned)
	}
	w.chat = append(w.chat, ChatLine{AgentKey: agentKey, Message: message})
	if len(w.chat) > chatHistory {
		w.chat = w.chat[len(w.chat)-chatHistory:]
	}
	w.logger.Info().Str("agent_key", agentKey).Str("message", message).Msg("entity chat")
	return nil
}

// BlockAt reports the material at a position, if any.
func (w *World) BlockAt(pos geo.Position) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	m, ok := w.blocks[keyFor(pos)]
	return m, ok
}

// BlockCount reports the number of placed blocks.
func (w *World) BlockCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.blocks)
}

// RecentChat returns a copy of the retained chat lines, newest last.
func (w *World) RecentChat() []ChatLine {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]ChatLine, len(w.chat))
	copy(out, w.chat)
	return out
}

package hotspot

import (
	"errors"
	"math"

	"voxelstream.ai/internal/sim/space"
)

var (
	ErrDuplicate = errors.New("hotspot already registered")
	ErrNotFound  = errors.New("hotspot not found")
)

// ID is the stable handle a collaborator uses for its point of interest.
type ID string

type Entry struct {
	ID     ID
	Pos    space.Vec3
	Radius float64
}

// Set keeps hotspots in insertion order. Radii are derived: every member gets
// cbrt(budget/count) so the summed influence volume stays close to budget.
type Set struct {
	order  []ID
	byID   map[ID]*Entry
	budget float64

	OnAdded   func(e Entry)
	OnRemoved func(e Entry)
}

func NewSet(budget float64) *Set {
	return &Set{
		byID:   map[ID]*Entry{},
		budget: budget,
	}
}

func (s *Set) Len() int { return len(s.order) }

func (s *Set) Budget() float64 { return s.budget }

func (s *Set) Has(id ID) bool {
	_, ok := s.byID[id]
	return ok
}

func (s *Set) Get(id ID) (Entry, bool) {
	e, ok := s.byID[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// At returns the i-th hotspot in insertion order.
func (s *Set) At(i int) Entry {
	return *s.byID[s.order[i]]
}

// Entries returns a copy in insertion order.
func (s *Set) Entries() []Entry {
	out := make([]Entry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}

func (s *Set) Add(id ID, pos space.Vec3) error {
	if _, ok := s.byID[id]; ok {
		return ErrDuplicate
	}
	e := &Entry{ID: id, Pos: pos}
	s.byID[id] = e
	s.order = append(s.order, id)
	if s.OnAdded != nil {
		s.OnAdded(*e)
	}
	s.Recompute(s.budget)
	return nil
}

func (s *Set) Remove(id ID) error {
	e, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.OnRemoved != nil {
		s.OnRemoved(*e)
	}
	s.Recompute(s.budget)
	return nil
}

func (s *Set) Move(id ID, pos space.Vec3) error {
	e, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	e.Pos = pos
	return nil
}

// Recompute stores budget and rederives every radius.
func (s *Set) Recompute(budget float64) {
	s.budget = budget
	if len(s.order) == 0 {
		return
	}
	r := math.Cbrt(budget / float64(len(s.order)))
	for _, e := range s.byID {
		e.Radius = r
	}
}

// Nearest returns the smallest Chebyshev distance from p to any hotspot.
func (s *Set) Nearest(p space.Vec3) (float64, bool) {
	if len(s.order) == 0 {
		return math.Inf(1), false
	}
	best := math.Inf(1)
	for _, id := range s.order {
		if d := space.Chebyshev(p, s.byID[id].Pos); d < best {
			best = d
		}
	}
	return best, true
}

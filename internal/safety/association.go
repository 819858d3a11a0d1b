package safety

import (
	"sort"

	"sitewatch/internal/geometry"
)

// AssociationParams defines the head region an equipment item must fall into
type AssociationParams struct {
	HeadBandFraction float64 // Upper fraction of the person box treated as head
	HeadTopTolerance float64 // Pixels above the box top still accepted
	LateralTolerance float64 // Pixels beyond the box sides still accepted
}

// DefaultAssociationParams returns the production head-band settings
func DefaultAssociationParams() AssociationParams {
	return AssociationParams{
		HeadBandFraction: 1.0 / 3.0,
		HeadTopTolerance: 60,
		LateralTolerance: 20,
	}
}

// Match pairs one person with one equipment item
type Match struct {
	PersonIndex    int     `json:"person_index"`
	EquipmentIndex int     `json:"equipment_index"`
	Distance       float64 `json:"distance"`
}

// Association is the one-to-one-or-none outcome for a frame
type Association struct {
	Equipped []bool  // Indexed like the persons slice
	Matches  []Match // Committed matches, in commit order
}

// AnyUnequipped reports whether at least one person has no matched equipment
func (a Association) AnyUnequipped() bool {
	for _, ok := range a.Equipped {
		if !ok {
			return true
		}
	}
	return false
}

// Associate pairs equipment with persons greedily by distance.
// Candidates must fall inside the person's head band; they are sorted by
// (distance, person index, equipment index) and committed in order, skipping
// any pair whose person or equipment is already taken.
func Associate(persons, equipment []Detection, p AssociationParams) Association {
	out := Association{Equipped: make([]bool, len(persons))}
	if len(persons) == 0 || len(equipment) == 0 {
		return out
	}

	centers := make([]geometry.Point, len(equipment))
	for j, e := range equipment {
		centers[j] = e.Box.Center()
	}

	var candidates []Match
	for i, person := range persons {
		box := person.Box
		if !box.Valid() {
			continue
		}

		minX := box.X1 - p.LateralTolerance
		maxX := box.X2 + p.LateralTolerance
		minY := box.Y1 - p.HeadTopTolerance
		maxY := box.Y1 + p.HeadBandFraction*box.Height()
		anchor := geometry.Point{X: box.Center().X, Y: box.Y1}

		for j, c := range centers {
			if c.X < minX || c.X > maxX || c.Y < minY || c.Y > maxY {
				continue
			}
			candidates = append(candidates, Match{
				PersonIndex:    i,
				EquipmentIndex: j,
				Distance:       geometry.ManhattanDistance(anchor, c),
			})
		}
	}

	sort.Slice(candidates, func(a, b int) bool {
		ca, cb := candidates[a], candidates[b]
		if ca.Distance != cb.Distance {
			return ca.Distance < cb.Distance
		}
		if ca.PersonIndex != cb.PersonIndex {
			return ca.PersonIndex < cb.PersonIndex
		}
		return ca.EquipmentIndex < cb.EquipmentIndex
	})

	claimed := make([]bool, len(equipment))
	for _, m := range candidates {
		if out.Equipped[m.PersonIndex] || claimed[m.EquipmentIndex] {
			continue
		}
		out.Equipped[m.PersonIndex] = true
		claimed[m.EquipmentIndex] = true
		out.Matches = append(out.Matches, m)
	}

	return out
}

// Package ordering computes fractional sort keys for inserting a node among
// ordered siblings without renumbering them.
//
// Orders are float64 values in (0, math.MaxFloat64]. A new key is always the
// midpoint of its two bounds, computed as a/2 + b/2 so that bounds close to
// math.MaxFloat64 never overflow to +Inf. Computing a key never changes the
// order of an existing sibling.
package ordering

import (
	"math"
	"sort"
	"strings"

	"ara/core"
)

// Position is where a node is inserted relative to its reference.
type Position string

const (
	// Above inserts right before the reference sibling.
	Above Position = "ABOVE"
	// Below inserts right after the reference sibling.
	Below Position = "BELOW"
	// LastChild appends to the children of the reference (or of the root when there is none).
	LastChild Position = "LAST_CHILD"
)

// MaxOrder is the exclusive ceiling of every order key.
const MaxOrder = math.MaxFloat64

// ParsePosition parses a position name; an empty string means LastChild.
func ParsePosition(s string) (Position, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return LastChild, true
	}
	p := Position(s)
	switch p {
	case Above, Below, LastChild:
		return p, true
	default:
		return "", false
	}
}

// NeedsSiblingReference reports whether the position is relative to a sibling.
func (p Position) NeedsSiblingReference() bool {
	return p == Above || p == Below
}

// Node is anything ordered by a fractional key.
type Node interface {
	NodeID() int64
	SortOrder() float64
}

// Midpoint returns the value halfway between a and b without overflowing.
func Midpoint(a, b float64) float64 {
	return a/2 + b/2
}

// ComputeInsertionOrder returns the order of a node inserted at position.
//
// For Above and Below, reference is the reference sibling's order and preceding/following
// are the orders of its direct neighbours (nil at either end of the list). For LastChild,
// reference is ignored and preceding is the order of the current last child (nil when
// there are no children).
func ComputeInsertionOrder(position Position, reference, preceding, following *float64) (float64, error) {
	lower, upper := 0.0, MaxOrder

	switch position {
	case LastChild:
		if preceding != nil {
			lower = *preceding
		}
	case Above:
		if reference == nil {
			return 0, core.NewInvalidReference(core.ResourceFunctionality, "position ABOVE requires a reference node")
		}
		upper = *reference
		if preceding != nil {
			lower = *preceding
		}
	case Below:
		if reference == nil {
			return 0, core.NewInvalidReference(core.ResourceFunctionality, "position BELOW requires a reference node")
		}
		lower = *reference
		if following != nil {
			upper = *following
		}
	default:
		return 0, core.NewBadRequest(core.ResourceFunctionality, core.KeyValidation, "unknown position: "+string(position))
	}

	order := Midpoint(lower, upper)
	if order <= lower || order >= upper || math.IsInf(order, 0) || math.IsNaN(order) {
		return 0, core.NewBadRequest(core.ResourceFunctionality, core.KeyOrderExhausted,
			"no order key left between neighbours, move them apart first")
	}
	return order, nil
}

// Place computes the order of a node inserted at position.
//
// For Above and Below, siblings are the reference's siblings (excluding the node being
// moved) and referenceID must designate one of them. For LastChild, siblings are the
// current children of the target parent and referenceID is not used.
func Place(position Position, siblings []Node, referenceID *int64) (float64, error) {
	sorted := Sorted(siblings)

	if position == LastChild {
		if len(sorted) == 0 {
			return ComputeInsertionOrder(LastChild, nil, nil, nil)
		}
		last := sorted[len(sorted)-1].SortOrder()
		return ComputeInsertionOrder(LastChild, nil, &last, nil)
	}

	if referenceID == nil {
		return ComputeInsertionOrder(position, nil, nil, nil)
	}

	reference, preceding, following, err := Locate(sorted, *referenceID)
	if err != nil {
		return 0, err
	}
	return ComputeInsertionOrder(position, reference, preceding, following)
}

// Locate finds referenceID in siblings already sorted by order and returns its order
// together with the orders of its direct neighbours.
func Locate(sorted []Node, referenceID int64) (reference, preceding, following *float64, err error) {
	for i, node := range sorted {
		if node.NodeID() != referenceID {
			continue
		}
		ref := node.SortOrder()
		reference = &ref
		if i > 0 {
			prev := sorted[i-1].SortOrder()
			preceding = &prev
		}
		if i < len(sorted)-1 {
			next := sorted[i+1].SortOrder()
			following = &next
		}
		return reference, preceding, following, nil
	}
	return nil, nil, nil, core.NewNotFound(core.ResourceFunctionality, "reference node not found among siblings")
}

// Sorted returns a copy of nodes sorted by ascending order; the input is not modified.
func Sorted(nodes []Node) []Node {
	sorted := make([]Node, len(nodes))
	copy(sorted, nodes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SortOrder() < sorted[j].SortOrder()
	})
	return sorted
}

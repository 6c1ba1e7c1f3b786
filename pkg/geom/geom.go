// Package geom holds pure helpers over 2D room grid coordinates.
package geom

import "fmt"

// RoomSize is the width and height of every room grid.
const RoomSize = 50

// Pos is a cell position inside a room.
type Pos struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// Unset is the sentinel used by jobs whose position is chosen later.
var Unset = Pos{X: -1, Y: -1}

func (p Pos) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Center returns the middle cell of a room.
func Center() Pos {
	return Pos{X: RoomSize / 2, Y: RoomSize / 2}
}

// Add returns a+b.
func Add(a, b Pos) Pos {
	return Pos{X: a.X + b.X, Y: a.Y + b.Y}
}

// Same reports whether a and b name the same cell.
func Same(a, b Pos) bool {
	return a.X == b.X && a.Y == b.Y
}

// Dist2 is the squared euclidean distance.
func Dist2(a, b Pos) int {
	dx, dy := a.X-b.X, a.Y-b.Y
	return dx*dx + dy*dy
}

// Range is the chebyshev distance, i.e. the number of diagonal-capable steps.
func Range(a, b Pos) int {
	dx := abs(a.X - b.X)
	dy := abs(a.Y - b.Y)
	if dx > dy {
		return dx
	}
	return dy
}

// InRange reports whether b is within r steps of a.
func InRange(a, b Pos, r int) bool {
	return Range(a, b) <= r
}

// InBounds reports whether p lies on the room grid.
func InBounds(p Pos) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < RoomSize && p.Y < RoomSize
}

// IsEdge reports whether p lies on the outer ring of the room.
func IsEdge(p Pos) bool {
	return p.X == 0 || p.Y == 0 || p.X == RoomSize-1 || p.Y == RoomSize-1
}

// Index flattens p into a row-major grid index.
func Index(p Pos) int {
	return p.Y*RoomSize + p.X
}

// FromIndex is the inverse of Index.
func FromIndex(i int) Pos {
	return Pos{X: i % RoomSize, Y: i / RoomSize}
}

var dirs8 = [8]Pos{
	{X: 0, Y: -1}, {X: 1, Y: -1}, {X: 1, Y: 0}, {X: 1, Y: 1},
	{X: 0, Y: 1}, {X: -1, Y: 1}, {X: -1, Y: 0}, {X: -1, Y: -1},
}

var dirs4 = [4]Pos{{X: 0, Y: -1}, {X: 1, Y: 0}, {X: 0, Y: 1}, {X: -1, Y: 0}}

// Neighbors8 returns the in-bounds cells adjacent to p, diagonals included.
func Neighbors8(p Pos) []Pos {
	out := make([]Pos, 0, 8)
	for _, d := range dirs8 {
		n := Add(p, d)
		if InBounds(n) {
			out = append(out, n)
		}
	}
	return out
}

// Area returns every in-bounds cell within r steps of center, row by row.
func Area(center Pos, r int) []Pos {
	var out []Pos
	for y := center.Y - r; y <= center.Y+r; y++ {
		for x := center.X - r; x <= center.X+r; x++ {
			p := Pos{X: x, Y: y}
			if InBounds(p) {
				out = append(out, p)
			}
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

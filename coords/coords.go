package coords

import (
	"errors"
	"math"
)

// Matrix is a PDF transformation matrix [a b c d e f], mapping
// (x, y) to (a*x + c*y + e, b*x + d*y + f).
type Matrix [6]float64

func Identity() Matrix { return Matrix{1, 0, 0, 1, 0, 0} }

// Multiply returns m applied before o.
func (m Matrix) Multiply(o Matrix) Matrix {
	return Matrix{
		m[0]*o[0] + m[1]*o[2],
		m[0]*o[1] + m[1]*o[3],
		m[2]*o[0] + m[3]*o[2],
		m[2]*o[1] + m[3]*o[3],
		m[4]*o[0] + m[5]*o[2] + o[4],
		m[4]*o[1] + m[5]*o[3] + o[5],
	}
}

type Point struct{ X, Y float64 }

func (m Matrix) Transform(p Point) Point {
	return Point{
		X: m[0]*p.X + m[2]*p.Y + m[4],
		Y: m[1]*p.X + m[3]*p.Y + m[5],
	}
}

func (m Matrix) Inverse() (Matrix, error) {
	det := m[0]*m[3] - m[1]*m[2]
	if math.Abs(det) < 1e-10 {
		return Matrix{}, errors.New("matrix singular")
	}
	return Matrix{
		m[3] / det,
		-m[1] / det,
		-m[2] / det,
		m[0] / det,
		(m[2]*m[5] - m[3]*m[4]) / det,
		(m[1]*m[4] - m[0]*m[5]) / det,
	}, nil
}

func Translate(tx, ty float64) Matrix { return Matrix{1, 0, 0, 1, tx, ty} }

func Scale(sx, sy float64) Matrix { return Matrix{sx, 0, 0, sy, 0, 0} }

// Rotate builds a rotation by angle radians, counterclockwise.
func Rotate(angle float64) Matrix {
	c := math.Cos(angle)
	s := math.Sin(angle)
	return Matrix{c, s, -s, c, 0, 0}
}

// Rect is an axis-aligned rectangle in page space.
type Rect struct {
	LLX, LLY, URX, URY float64
}

// RectFromCorners normalizes so the lower-left corner really is the
// lower left; PDF rectangles may list corners in any order.
func RectFromCorners(x0, y0, x1, y1 float64) Rect {
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	return Rect{LLX: x0, LLY: y0, URX: x1, URY: y1}
}

func (r Rect) Width() float64  { return r.URX - r.LLX }
func (r Rect) Height() float64 { return r.URY - r.LLY }

func (r Rect) Empty() bool { return r.Width() <= 0 || r.Height() <= 0 }

// Intersect clips r to bounds. An empty intersection collapses to the
// shared edge or corner.
func (r Rect) Intersect(bounds Rect) Rect {
	out := r
	if out.LLX < bounds.LLX {
		out.LLX = bounds.LLX
	}
	if out.LLY < bounds.LLY {
		out.LLY = bounds.LLY
	}
	if out.URX > bounds.URX {
		out.URX = bounds.URX
	}
	if out.URY > bounds.URY {
		out.URY = bounds.URY
	}
	if out.URX < out.LLX {
		out.URX = out.LLX
	}
	if out.URY < out.LLY {
		out.URY = out.LLY
	}
	return out
}

func (r Rect) Contains(p Point) bool {
	return p.X >= r.LLX && p.X <= r.URX && p.Y >= r.LLY && p.Y <= r.URY
}

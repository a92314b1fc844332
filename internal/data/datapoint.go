// Package data holds the points of the synthetic point clouds written by the generate command.
package data

import "github.com/golang/geo/r3"

// Per point values written to the pnts feature and batch tables
type PointAttributes struct {
	R, G, B        uint8
	Intensity      uint8
	Classification uint8
	Temperature    float32
}

// Point is a position in the internal reference system of the tree with its attributes
type Point struct {
	r3.Vector
	PointAttributes
}

func NewPoint(position r3.Vector, attributes PointAttributes) *Point {
	return &Point{Vector: position, PointAttributes: attributes}
}

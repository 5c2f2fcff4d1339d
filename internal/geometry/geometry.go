// Package geometry handles sub-region boundaries: clipping to the
// jurisdiction, locating the pixel window a boundary covers, and building the
// pixel mask inside it.
package geometry

import (
	"errors"
	"math"

	"github.com/ctessum/geom"

	"github.com/ag-res/reconcile/internal/raster"
)

// Sentinel errors returned by window and clip operations.
var (
	ErrEmptyWindow = errors.New("geometry: window covers no pixels")
	ErrOutsideGrid = errors.New("geometry: bounds do not overlap the grid")
	ErrNoOverlap   = errors.New("geometry: shape does not overlap the boundary")
)

// SubRegion is one named sub-region boundary.
type SubRegion struct {
	ID   string
	Name string
	Geom geom.Polygonal
}

// Clip returns the part of shape inside boundary. Neither input is modified.
func Clip(shape, boundary geom.Polygonal) (geom.Polygonal, error) {
	if shape == nil || boundary == nil {
		return nil, ErrNoOverlap
	}
	out := shape.Intersection(boundary)
	if out == nil || len(out.Polygons()) == 0 || out.Area() == 0 {
		return nil, ErrNoOverlap
	}
	return out, nil
}

// ClipAll clips each sub-region to boundary. Sub-regions outside the
// boundary are returned separately by name.
func ClipAll(regions []SubRegion, boundary geom.Polygonal) (clipped []SubRegion, dropped []string) {
	for _, r := range regions {
		g, err := Clip(r.Geom, boundary)
		if err != nil {
			dropped = append(dropped, r.Name)
			continue
		}
		clipped = append(clipped, SubRegion{ID: r.ID, Name: r.Name, Geom: g})
	}
	return clipped, dropped
}

// Union merges shapes into one polygon.
func Union(shapes []geom.Polygonal) geom.Polygonal {
	var out geom.Polygonal
	for _, s := range shapes {
		for _, p := range s.Polygons() {
			if out == nil {
				out = p
				continue
			}
			out = out.Union(p)
		}
	}
	return out
}

// PixelWindow returns the block of pixels of a width×height grid covered by
// b. Pixels are included when any part of them lies within b.
func PixelWindow(b *geom.Bounds, geo raster.GeoTransform, width, height int) (raster.Window, error) {
	if b == nil || b.Min.X > b.Max.X || b.Min.Y > b.Max.Y {
		return raster.Window{}, ErrEmptyWindow
	}
	gridMaxX := geo.OriginX + float64(width)*geo.PixelWidth
	gridMinY := geo.OriginY - float64(height)*geo.PixelHeight
	if b.Max.X <= geo.OriginX || b.Min.X >= gridMaxX || b.Max.Y <= gridMinY || b.Min.Y >= geo.OriginY {
		return raster.Window{}, ErrOutsideGrid
	}

	col0 := int(math.Floor((b.Min.X - geo.OriginX) / geo.PixelWidth))
	col1 := int(math.Ceil((b.Max.X - geo.OriginX) / geo.PixelWidth))
	row0 := int(math.Floor((geo.OriginY - b.Max.Y) / geo.PixelHeight))
	row1 := int(math.Ceil((geo.OriginY - b.Min.Y) / geo.PixelHeight))

	col0, col1 = clamp(col0, 0, width), clamp(col1, 0, width)
	row0, row1 = clamp(row0, 0, height), clamp(row1, 0, height)

	w := raster.Window{Col: col0, Row: row0, Width: col1 - col0, Height: row1 - row0}
	if w.Empty() {
		return raster.Window{}, ErrEmptyWindow
	}
	return w, nil
}

// Mask marks the pixels of w whose centre lies inside shape, row-major.
// Centres exactly on the boundary are outside, so neighbouring shapes never
// both claim a pixel.
func Mask(shape geom.Polygonal, geo raster.GeoTransform, w raster.Window) []bool {
	mask := make([]bool, w.Len())
	b := shape.Bounds()
	for r := 0; r < w.Height; r++ {
		for c := 0; c < w.Width; c++ {
			x, y := geo.CellCentre(w.Col+c, w.Row+r)
			if x < b.Min.X || x > b.Max.X || y < b.Min.Y || y > b.Max.Y {
				continue
			}
			if (geom.Point{X: x, Y: y}).Within(shape) == geom.Inside {
				mask[r*w.Width+c] = true
			}
		}
	}
	return mask
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

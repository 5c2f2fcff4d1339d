// Package raster holds the category and value grids the materializer writes
// into, and the codecs that move them to and from disk.
//
// Category codes are stored as a single-band uint16 TIFF with a world file
// sidecar. Values are stored as ENVI band-interleaved float32 with a text
// header.
package raster

import (
	"fmt"
	"math"
)

// Unset markers.
const (
	NoDataCode  uint16  = 0
	NoDataValue float32 = -9999
)

// GeoTransform maps pixel indices to map coordinates. The origin is the
// outer corner of the top-left pixel; rows grow southwards.
type GeoTransform struct {
	OriginX     float64
	OriginY     float64
	PixelWidth  float64
	PixelHeight float64 // positive
}

// CellCentre returns the map coordinates of the centre of pixel (col, row).
func (g GeoTransform) CellCentre(col, row int) (x, y float64) {
	return g.OriginX + (float64(col)+0.5)*g.PixelWidth, g.OriginY - (float64(row)+0.5)*g.PixelHeight
}

// Valid reports whether the transform has positive pixel dimensions.
func (g GeoTransform) Valid() bool {
	return g.PixelWidth > 0 && g.PixelHeight > 0 &&
		!math.IsNaN(g.OriginX) && !math.IsNaN(g.OriginY)
}

// Window is a rectangular block of pixels.
type Window struct {
	Col, Row      int
	Width, Height int
}

// Empty reports whether the window covers no pixels.
func (w Window) Empty() bool { return w.Width <= 0 || w.Height <= 0 }

// Len returns the number of pixels in the window.
func (w Window) Len() int {
	if w.Empty() {
		return 0
	}
	return w.Width * w.Height
}

func (w Window) String() string {
	return fmt.Sprintf("col=%d row=%d %dx%d", w.Col, w.Row, w.Width, w.Height)
}

// CategoryGrid is a single band of category codes, row-major.
type CategoryGrid struct {
	Width, Height int
	Geo           GeoTransform
	Data          []uint16
}

// NewCategoryGrid returns a grid filled with NoDataCode.
func NewCategoryGrid(width, height int, geo GeoTransform) *CategoryGrid {
	return &CategoryGrid{Width: width, Height: height, Geo: geo, Data: make([]uint16, width*height)}
}

// At returns the code at (col, row).
func (g *CategoryGrid) At(col, row int) uint16 { return g.Data[row*g.Width+col] }

// Set sets the code at (col, row).
func (g *CategoryGrid) Set(col, row int, v uint16) { g.Data[row*g.Width+col] = v }

// Contains reports whether w lies entirely inside the grid.
func (g *CategoryGrid) Contains(w Window) bool {
	return contains(g.Width, g.Height, w)
}

// ReadWindow copies the pixels of w into a new slice, row-major.
func (g *CategoryGrid) ReadWindow(w Window) ([]uint16, error) {
	if !g.Contains(w) {
		return nil, fmt.Errorf("window %s outside %dx%d grid", w, g.Width, g.Height)
	}
	out := make([]uint16, 0, w.Len())
	for r := w.Row; r < w.Row+w.Height; r++ {
		start := r*g.Width + w.Col
		out = append(out, g.Data[start:start+w.Width]...)
	}
	return out, nil
}

// WriteWindow copies band into w. When mask is non-nil only pixels where
// mask is true are written.
func (g *CategoryGrid) WriteWindow(w Window, band []uint16, mask []bool) error {
	if err := checkWrite(g.Width, g.Height, w, len(band), mask); err != nil {
		return err
	}
	for i, v := range band {
		if mask != nil && !mask[i] {
			continue
		}
		g.Data[(w.Row+i/w.Width)*g.Width+w.Col+i%w.Width] = v
	}
	return nil
}

// Counts returns the number of pixels per code, excluding NoDataCode.
func (g *CategoryGrid) Counts() map[uint16]int {
	out := make(map[uint16]int)
	for _, v := range g.Data {
		if v != NoDataCode {
			out[v]++
		}
	}
	return out
}

// Clone returns a deep copy of g.
func (g *CategoryGrid) Clone() *CategoryGrid {
	c := *g
	c.Data = append([]uint16(nil), g.Data...)
	return &c
}

// ValueGrid is a single band of per-pixel values, row-major.
type ValueGrid struct {
	Width, Height int
	Geo           GeoTransform
	Data          []float32
}

// NewValueGrid returns a grid filled with NoDataValue.
func NewValueGrid(width, height int, geo GeoTransform) *ValueGrid {
	g := &ValueGrid{Width: width, Height: height, Geo: geo, Data: make([]float32, width*height)}
	for i := range g.Data {
		g.Data[i] = NoDataValue
	}
	return g
}

// At returns the value at (col, row).
func (g *ValueGrid) At(col, row int) float32 { return g.Data[row*g.Width+col] }

// ReadWindow copies the pixels of w into a new slice, row-major.
func (g *ValueGrid) ReadWindow(w Window) ([]float32, error) {
	if !contains(g.Width, g.Height, w) {
		return nil, fmt.Errorf("window %s outside %dx%d grid", w, g.Width, g.Height)
	}
	out := make([]float32, 0, w.Len())
	for r := w.Row; r < w.Row+w.Height; r++ {
		start := r*g.Width + w.Col
		out = append(out, g.Data[start:start+w.Width]...)
	}
	return out, nil
}

// WriteWindow copies band into w. When mask is non-nil only pixels where
// mask is true are written.
func (g *ValueGrid) WriteWindow(w Window, band []float32, mask []bool) error {
	if err := checkWrite(g.Width, g.Height, w, len(band), mask); err != nil {
		return err
	}
	for i, v := range band {
		if mask != nil && !mask[i] {
			continue
		}
		g.Data[(w.Row+i/w.Width)*g.Width+w.Col+i%w.Width] = v
	}
	return nil
}

// Pair is the category and value output of one run, sharing a shape and
// transform.
type Pair struct {
	Codes  *CategoryGrid
	Values *ValueGrid
}

// NewPair returns an unset output pair shaped like src.
func NewPair(src *CategoryGrid) Pair {
	return Pair{
		Codes:  NewCategoryGrid(src.Width, src.Height, src.Geo),
		Values: NewValueGrid(src.Width, src.Height, src.Geo),
	}
}

func contains(width, height int, w Window) bool {
	return w.Col >= 0 && w.Row >= 0 && !w.Empty() &&
		w.Col+w.Width <= width && w.Row+w.Height <= height
}

func checkWrite(width, height int, w Window, n int, mask []bool) error {
	if !contains(width, height, w) {
		return fmt.Errorf("window %s outside %dx%d grid", w, width, height)
	}
	if n != w.Len() {
		return fmt.Errorf("band has %d pixels, window %s needs %d", n, w, w.Len())
	}
	if mask != nil && len(mask) != n {
		return fmt.Errorf("mask has %d pixels, band has %d", len(mask), n)
	}
	return nil
}

package geometry

import (
	"fmt"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/proj"
)

// LoadOptions selects the attribute columns and output projection of a
// shapefile load.
type LoadOptions struct {
	NameField string // optional
	IDField   string // optional

	// Proj is a proj4 string for the raster's coordinate system. When empty
	// shapes keep the shapefile's own coordinates.
	Proj string
}

// LoadShapes reads polygon features from a shapefile. Non-polygon features
// are an error.
func LoadShapes(path string, opts LoadOptions) ([]SubRegion, error) {
	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile %s: %w", path, err)
	}
	defer dec.Close()

	var trans proj.Transformer
	if opts.Proj != "" {
		dst, err := proj.Parse(opts.Proj)
		if err != nil {
			return nil, fmt.Errorf("parse projection %q: %w", opts.Proj, err)
		}
		src, err := dec.SR()
		if err != nil {
			return nil, fmt.Errorf("shapefile %s projection: %w", path, err)
		}
		trans, err = src.NewTransform(dst)
		if err != nil {
			return nil, fmt.Errorf("shapefile %s transform: %w", path, err)
		}
	}

	var fields []string
	for _, f := range []string{opts.NameField, opts.IDField} {
		if f != "" {
			fields = append(fields, f)
		}
	}

	var out []SubRegion
	for {
		g, attrs, more := dec.DecodeRowFields(fields...)
		if !more {
			break
		}
		if trans != nil {
			if g, err = g.Transform(trans); err != nil {
				return nil, fmt.Errorf("shapefile %s row %d: %w", path, len(out), err)
			}
		}
		poly, ok := g.(geom.Polygonal)
		if !ok {
			return nil, fmt.Errorf("shapefile %s row %d: %T is not a polygon", path, len(out), g)
		}
		r := SubRegion{Geom: poly}
		if opts.NameField != "" {
			r.Name = cleanAttr(attrs[opts.NameField])
		}
		if opts.IDField != "" {
			r.ID = cleanAttr(attrs[opts.IDField])
		}
		out = append(out, r)
	}
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("read shapefile %s: %w", path, err)
	}
	return out, nil
}

// LoadBoundary reads every polygon in a shapefile and merges them into one.
func LoadBoundary(path, projection string) (geom.Polygonal, error) {
	regions, err := LoadShapes(path, LoadOptions{Proj: projection})
	if err != nil {
		return nil, err
	}
	if len(regions) == 0 {
		return nil, fmt.Errorf("shapefile %s has no polygons", path)
	}
	shapes := make([]geom.Polygonal, len(regions))
	for i, r := range regions {
		shapes[i] = r.Geom
	}
	return Union(shapes), nil
}

func cleanAttr(s string) string {
	return strings.TrimSpace(strings.Trim(s, "\x00"))
}

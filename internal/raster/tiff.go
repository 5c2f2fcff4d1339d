package raster

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"

	"github.com/ag-res/reconcile/internal/fsutil"
)

// WorldFilePath returns the world file sidecar path for a raster, e.g.
// codes.tif -> codes.tfw.
func WorldFilePath(path string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	switch strings.ToLower(ext) {
	case ".tif", ".tiff":
		return base + ".tfw"
	default:
		return base + ".wld"
	}
}

// ReadCategoryTIFF reads a single-band TIFF of category codes and its world
// file. 8-bit, 16-bit and paletted images are accepted; for paletted images
// the palette index is the code.
func ReadCategoryTIFF(fsys fsutil.FileSystem, path string) (*CategoryGrid, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	geo, err := ReadWorldFile(fsys, WorldFilePath(path))
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	g := NewCategoryGrid(b.Dx(), b.Dy(), geo)
	switch m := img.(type) {
	case *image.Gray:
		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x++ {
				g.Set(x, y, uint16(m.GrayAt(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
	case *image.Gray16:
		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x++ {
				g.Set(x, y, m.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	case *image.Paletted:
		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x++ {
				g.Set(x, y, uint16(m.ColorIndexAt(b.Min.X+x, b.Min.Y+y)))
			}
		}
	default:
		return nil, fmt.Errorf("%s: unsupported image type %T for category codes", path, img)
	}
	return g, nil
}

// WriteCategoryTIFF writes g as a deflate-compressed 16-bit TIFF plus its
// world file.
func WriteCategoryTIFF(fsys fsutil.FileSystem, path string, g *CategoryGrid) error {
	img := image.NewGray16(image.Rect(0, 0, g.Width, g.Height))
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			v := g.At(x, y)
			i := img.PixOffset(x, y)
			img.Pix[i] = uint8(v >> 8)
			img.Pix[i+1] = uint8(v)
		}
	}

	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := fsys.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return WriteWorldFile(fsys, WorldFilePath(path), g.Geo)
}

// ReadWorldFile parses the six-line world file format. The file stores the
// centre of the top-left pixel; the returned transform uses its outer
// corner. Rotation terms must be zero.
func ReadWorldFile(fsys fsutil.FileSystem, path string) (GeoTransform, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return GeoTransform{}, fmt.Errorf("read world file %s: %w", path, err)
	}
	var vals []float64
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return GeoTransform{}, fmt.Errorf("world file %s line %d: %w", path, len(vals)+1, err)
		}
		vals = append(vals, v)
	}
	if len(vals) != 6 {
		return GeoTransform{}, fmt.Errorf("world file %s: want 6 values, got %d", path, len(vals))
	}
	if vals[1] != 0 || vals[2] != 0 {
		return GeoTransform{}, fmt.Errorf("world file %s: rotated rasters are not supported", path)
	}
	geo := GeoTransform{
		PixelWidth:  vals[0],
		PixelHeight: -vals[3],
	}
	geo.OriginX = vals[4] - geo.PixelWidth/2
	geo.OriginY = vals[5] + geo.PixelHeight/2
	if !geo.Valid() {
		return GeoTransform{}, fmt.Errorf("world file %s: invalid pixel size %gx%g", path, vals[0], vals[3])
	}
	return geo, nil
}

// WriteWorldFile writes geo in the six-line world file format.
func WriteWorldFile(fsys fsutil.FileSystem, path string, geo GeoTransform) error {
	cx, cy := geo.CellCentre(0, 0)
	content := fmt.Sprintf("%s\n0\n0\n%s\n%s\n%s\n",
		ftoa(geo.PixelWidth), ftoa(-geo.PixelHeight), ftoa(cx), ftoa(cy))
	if err := fsys.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write world file %s: %w", path, err)
	}
	return nil
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

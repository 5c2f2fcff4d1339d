package raster

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ag-res/reconcile/internal/fsutil"
)

// HeaderPath returns the ENVI header path for a BIL file, e.g.
// values.bil -> values.hdr.
func HeaderPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".hdr"
}

// WriteValueBIL writes g as little-endian float32 band-interleaved-by-line
// data with an ENVI header carrying the map origin and the unset marker.
func WriteValueBIL(fsys fsutil.FileSystem, path string, g *ValueGrid) error {
	buf := make([]byte, 4*len(g.Data))
	for i, v := range g.Data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	if err := fsys.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	var hdr strings.Builder
	hdr.WriteString("ENVI\n")
	fmt.Fprintf(&hdr, "description = {%s}\n", filepath.Base(path))
	fmt.Fprintf(&hdr, "samples = %d\n", g.Width)
	fmt.Fprintf(&hdr, "lines = %d\n", g.Height)
	hdr.WriteString("bands = 1\n")
	hdr.WriteString("header offset = 0\n")
	hdr.WriteString("file type = ENVI Standard\n")
	hdr.WriteString("data type = 4\n")
	hdr.WriteString("interleave = bil\n")
	hdr.WriteString("byte order = 0\n")
	fmt.Fprintf(&hdr, "map info = {Arbitrary, 1, 1, %s, %s, %s, %s}\n",
		ftoa(g.Geo.OriginX), ftoa(g.Geo.OriginY), ftoa(g.Geo.PixelWidth), ftoa(g.Geo.PixelHeight))
	fmt.Fprintf(&hdr, "data ignore value = %s\n", ftoa(float64(NoDataValue)))

	if err := fsys.WriteFile(HeaderPath(path), []byte(hdr.String()), 0o644); err != nil {
		return fmt.Errorf("write header for %s: %w", path, err)
	}
	return nil
}

// ReadValueBIL reads a single-band float32 BIL file written by
// WriteValueBIL.
func ReadValueBIL(fsys fsutil.FileSystem, path string) (*ValueGrid, error) {
	hdrData, err := fsys.ReadFile(HeaderPath(path))
	if err != nil {
		return nil, fmt.Errorf("read header for %s: %w", path, err)
	}
	hdr, err := parseENVIHeader(hdrData)
	if err != nil {
		return nil, fmt.Errorf("header for %s: %w", path, err)
	}

	width, err := hdr.int("samples")
	if err != nil {
		return nil, err
	}
	height, err := hdr.int("lines")
	if err != nil {
		return nil, err
	}
	if dt := hdr["data type"]; dt != "4" {
		return nil, fmt.Errorf("%s: unsupported data type %q", path, dt)
	}
	if bands := hdr["bands"]; bands != "" && bands != "1" {
		return nil, fmt.Errorf("%s: want 1 band, got %s", path, bands)
	}
	var order binary.ByteOrder = binary.LittleEndian
	if hdr["byte order"] == "1" {
		order = binary.BigEndian
	}
	geo, err := hdr.mapInfo()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) != 4*width*height {
		return nil, fmt.Errorf("%s: %d bytes, want %d for %dx%d float32", path, len(data), 4*width*height, width, height)
	}

	g := &ValueGrid{Width: width, Height: height, Geo: geo, Data: make([]float32, width*height)}
	for i := range g.Data {
		g.Data[i] = math.Float32frombits(order.Uint32(data[4*i:]))
	}
	return g, nil
}

type enviHeader map[string]string

func parseENVIHeader(data []byte) (enviHeader, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	if !sc.Scan() || strings.TrimSpace(sc.Text()) != "ENVI" {
		return nil, fmt.Errorf("missing ENVI magic")
	}
	h := make(enviHeader)
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		h[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(val)
	}
	return h, sc.Err()
}

func (h enviHeader) int(key string) (int, error) {
	v, err := strconv.Atoi(h[key])
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("header %q: invalid value %q", key, h[key])
	}
	return v, nil
}

// mapInfo parses "{proj, refX, refY, x, y, dx, dy, ...}". Reference pixel
// (1, 1) is the outer corner of the top-left pixel.
func (h enviHeader) mapInfo() (GeoTransform, error) {
	raw := strings.Trim(h["map info"], "{}")
	parts := strings.Split(raw, ",")
	if len(parts) < 7 {
		return GeoTransform{}, fmt.Errorf("map info: want at least 7 fields, got %d", len(parts))
	}
	var f [6]float64
	for i := range f {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i+1]), 64)
		if err != nil {
			return GeoTransform{}, fmt.Errorf("map info field %d: %w", i+2, err)
		}
		f[i] = v
	}
	geo := GeoTransform{
		OriginX:     f[2] - (f[0]-1)*f[4],
		OriginY:     f[3] + (f[1]-1)*f[5],
		PixelWidth:  f[4],
		PixelHeight: f[5],
	}
	if !geo.Valid() {
		return GeoTransform{}, fmt.Errorf("map info: invalid pixel size %gx%g", f[4], f[5])
	}
	return geo, nil
}

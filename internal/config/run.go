package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfigPath is the path to the canonical run defaults file.
const DefaultConfigPath = "config/run.defaults.json"

// Top-up granularity values.
const (
	TopUpRegion    = "region"
	TopUpSubRegion = "sub_region"
)

// Pixel value kinds burned into the value grid.
const (
	ValueBiomass = "biomass"
	ValueYield   = "yield"
)

// DefaultDonorPriority is the fixed order in which the cascading top-up
// draws from broad categories.
var DefaultDonorPriority = []string{"Other crops", "Pasture/forages", "Canola/rapeseed"}

// DefaultProtectedCodes are the non-agricultural land cover codes that the
// deficit fill never overwrites (water, urban, forest, wetland, ...).
var DefaultProtectedCodes = []int{10, 20, 30, 34, 35, 50, 60, 80, 85, 110, 130, 200, 210, 220, 230}

// RunConfig is the explicit configuration passed to every stage of a run.
// Fields omitted from the JSON file fall back to the Get* defaults.
type RunConfig struct {
	// Layout
	DataRoot     *string `json:"data_root,omitempty"`
	DatabasePath *string `json:"database_path,omitempty"`

	// Reconciliation
	ToleranceAcres *float64 `json:"tolerance_acres,omitempty"`
	DonorPriority  []string `json:"donor_priority,omitempty"`
	TopUpLevel     *string  `json:"top_up_level,omitempty"` // "region" or "sub_region"

	// Targets
	ValueKind *string `json:"value_kind,omitempty"` // "biomass" or "yield"

	// Materialization
	ProtectedCodes []int    `json:"protected_codes,omitempty"`
	NoDataCode     *int     `json:"nodata_code,omitempty"`
	ValueSentinel  *float64 `json:"value_sentinel,omitempty"`
	Seed           *uint64  `json:"seed,omitempty"`
	Workers        *int     `json:"workers,omitempty"`
	OnlySubRegions []string `json:"only_sub_regions,omitempty"` // names or ids; empty materializes all

	// Geometry
	SubRegionField   *string `json:"sub_region_field,omitempty"`
	SubRegionIDField *string `json:"sub_region_id_field,omitempty"` // "" disables ids
	RasterProj       *string `json:"raster_proj,omitempty"`         // proj4; empty keeps source coordinates

	// Publishing
	PublishTo  *string `json:"publish_to,omitempty"` // directory or s3://bucket/prefix
	S3Region   *string `json:"s3_region,omitempty"`
	S3Endpoint *string `json:"s3_endpoint,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// EmptyRunConfig returns a RunConfig with all fields unset.
func EmptyRunConfig() *RunConfig {
	return &RunConfig{}
}

// DefaultRunConfig returns a RunConfig with every default made explicit.
// The seed stays unset: a run without a configured seed draws one and
// records it.
func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		DataRoot:         ptrString("."),
		DatabasePath:     ptrString("agres.db"),
		ToleranceAcres:   ptrFloat64(1e-3),
		DonorPriority:    append([]string(nil), DefaultDonorPriority...),
		TopUpLevel:       ptrString(TopUpSubRegion),
		ValueKind:        ptrString(ValueBiomass),
		ProtectedCodes:   append([]int(nil), DefaultProtectedCodes...),
		NoDataCode:       ptrInt(0),
		ValueSentinel:    ptrFloat64(-9999),
		Workers:          ptrInt(1),
		SubRegionField:   ptrString("MUNI_NAME"),
		SubRegionIDField: ptrString("MUNI_NO"),
	}
}

// LoadRunConfig loads a RunConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadRunConfig(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyRunConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Panics if the file
// cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *RunConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadRunConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *RunConfig) Validate() error {
	if c.ToleranceAcres != nil && *c.ToleranceAcres < 0 {
		return fmt.Errorf("tolerance_acres must be non-negative, got %f", *c.ToleranceAcres)
	}

	if c.TopUpLevel != nil {
		switch *c.TopUpLevel {
		case TopUpRegion, TopUpSubRegion:
		default:
			return fmt.Errorf("top_up_level must be %q or %q, got %q", TopUpRegion, TopUpSubRegion, *c.TopUpLevel)
		}
	}

	if c.ValueKind != nil {
		switch *c.ValueKind {
		case ValueBiomass, ValueYield:
		default:
			return fmt.Errorf("value_kind must be %q or %q, got %q", ValueBiomass, ValueYield, *c.ValueKind)
		}
	}

	seen := make(map[string]bool, len(c.DonorPriority))
	for _, label := range c.DonorPriority {
		if strings.TrimSpace(label) == "" {
			return fmt.Errorf("donor_priority contains an empty label")
		}
		if seen[label] {
			return fmt.Errorf("donor_priority lists %q twice", label)
		}
		seen[label] = true
	}

	for _, code := range c.ProtectedCodes {
		if code < 0 || code > 0xFFFF {
			return fmt.Errorf("protected code %d out of uint16 range", code)
		}
	}

	if c.NoDataCode != nil && (*c.NoDataCode < 0 || *c.NoDataCode > 0xFFFF) {
		return fmt.Errorf("nodata_code %d out of uint16 range", *c.NoDataCode)
	}

	if c.ValueSentinel != nil && *c.ValueSentinel >= 0 {
		return fmt.Errorf("value_sentinel must be negative, got %f", *c.ValueSentinel)
	}

	for _, name := range c.OnlySubRegions {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("only_sub_regions contains an empty name")
		}
	}

	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}

	if c.PublishTo != nil && strings.HasPrefix(*c.PublishTo, "s3://") {
		if strings.TrimPrefix(*c.PublishTo, "s3://") == "" {
			return fmt.Errorf("publish_to %q has no bucket", *c.PublishTo)
		}
	}

	return nil
}

// GetDataRoot returns the data_root value or the default.
func (c *RunConfig) GetDataRoot() string {
	if c.DataRoot == nil || *c.DataRoot == "" {
		return "."
	}
	return *c.DataRoot
}

// GetDatabasePath returns the database_path value or the default.
func (c *RunConfig) GetDatabasePath() string {
	if c.DatabasePath == nil || *c.DatabasePath == "" {
		return "agres.db"
	}
	return *c.DatabasePath
}

// GetToleranceAcres returns the tolerance_acres value or the default.
func (c *RunConfig) GetToleranceAcres() float64 {
	if c.ToleranceAcres == nil {
		return 1e-3
	}
	return *c.ToleranceAcres
}

// GetDonorPriority returns the donor_priority list or the default order.
func (c *RunConfig) GetDonorPriority() []string {
	if len(c.DonorPriority) == 0 {
		return append([]string(nil), DefaultDonorPriority...)
	}
	return append([]string(nil), c.DonorPriority...)
}

// GetTopUpLevel returns the top_up_level value or the default.
func (c *RunConfig) GetTopUpLevel() string {
	if c.TopUpLevel == nil || *c.TopUpLevel == "" {
		return TopUpSubRegion
	}
	return *c.TopUpLevel
}

// GetValueKind returns the value_kind value or the default.
func (c *RunConfig) GetValueKind() string {
	if c.ValueKind == nil || *c.ValueKind == "" {
		return ValueBiomass
	}
	return *c.ValueKind
}

// GetProtectedCodes returns the protected_codes list or the default set.
func (c *RunConfig) GetProtectedCodes() []int {
	if len(c.ProtectedCodes) == 0 {
		return append([]int(nil), DefaultProtectedCodes...)
	}
	return append([]int(nil), c.ProtectedCodes...)
}

// GetNoDataCode returns the nodata_code value or the default.
func (c *RunConfig) GetNoDataCode() uint16 {
	if c.NoDataCode == nil {
		return 0
	}
	return uint16(*c.NoDataCode)
}

// GetValueSentinel returns the value_sentinel value or the default.
func (c *RunConfig) GetValueSentinel() float32 {
	if c.ValueSentinel == nil {
		return -9999
	}
	return float32(*c.ValueSentinel)
}

// GetSeed returns the configured seed and whether one was set.
func (c *RunConfig) GetSeed() (uint64, bool) {
	if c.Seed == nil {
		return 0, false
	}
	return *c.Seed, true
}

// GetWorkers returns the workers value or the default.
func (c *RunConfig) GetWorkers() int {
	if c.Workers == nil {
		return 1
	}
	return *c.Workers
}

// GetSubRegionField returns the shapefile attribute naming a sub-region.
func (c *RunConfig) GetSubRegionField() string {
	if c.SubRegionField == nil || *c.SubRegionField == "" {
		return "MUNI_NAME"
	}
	return *c.SubRegionField
}

// GetSubRegionIDField returns the shapefile attribute holding a
// sub-region's id. An explicit empty value disables ids.
func (c *RunConfig) GetSubRegionIDField() string {
	if c.SubRegionIDField == nil {
		return "MUNI_NO"
	}
	return *c.SubRegionIDField
}

// GetRasterProj returns the raster projection, empty when unset.
func (c *RunConfig) GetRasterProj() string {
	if c.RasterProj == nil {
		return ""
	}
	return *c.RasterProj
}

// GetPublishTo returns the publish destination, empty when unset.
func (c *RunConfig) GetPublishTo() string {
	if c.PublishTo == nil {
		return ""
	}
	return *c.PublishTo
}

// GetS3Region returns the s3_region value or the default.
func (c *RunConfig) GetS3Region() string {
	if c.S3Region == nil || *c.S3Region == "" {
		return "us-east-1"
	}
	return *c.S3Region
}

// GetS3Endpoint returns the custom S3 endpoint, empty for AWS.
func (c *RunConfig) GetS3Endpoint() string {
	if c.S3Endpoint == nil {
		return ""
	}
	return *c.S3Endpoint
}

// GetOnlySubRegions returns the sub-regions a rasterize is limited to, or
// nil for all of them.
func (c *RunConfig) GetOnlySubRegions() []string {
	if len(c.OnlySubRegions) == 0 {
		return nil
	}
	return append([]string(nil), c.OnlySubRegions...)
}

// Package units provides the area conversion constants shared by every stage.
// Reconciliation, distribution and pixel targets must all convert through
// this package so that no two stages disagree on a constant.
package units

// Area unit constants
const (
	Acres    = "acres"
	Hectares = "hectares"
	Pixels   = "pixels"
)

const (
	// HectaresPerAcre is the fixed acre to hectare factor.
	HectaresPerAcre = 0.404686
	// HectaresPerPixel is the area of one 30 m classified raster cell.
	HectaresPerPixel = 0.09
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Acres, Hectares, Pixels}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "acres, hectares, pixels"
}

// AcresToHectares converts acres to hectares.
func AcresToHectares(acres float64) float64 {
	return acres * HectaresPerAcre
}

// HectaresToAcres converts hectares to acres.
func HectaresToAcres(ha float64) float64 {
	return ha / HectaresPerAcre
}

// HectaresToPixels converts hectares to a (fractional) raster cell count.
func HectaresToPixels(ha float64) float64 {
	return ha / HectaresPerPixel
}

// PixelsToHectares converts a raster cell count to hectares.
func PixelsToHectares(px float64) float64 {
	return px * HectaresPerPixel
}

// AcresToPixels converts acres to a fractional raster cell count.
func AcresToPixels(acres float64) float64 {
	return HectaresToPixels(AcresToHectares(acres))
}

// ConvertArea converts an area expressed in acres to the target units.
// Unknown units fall back to acres.
func ConvertArea(acres float64, targetUnits string) float64 {
	switch targetUnits {
	case Acres:
		return acres
	case Hectares:
		return AcresToHectares(acres)
	case Pixels:
		return AcresToPixels(acres)
	default:
		return acres
	}
}

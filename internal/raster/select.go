package raster

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/ag-res/reconcile/internal/fsutil"
)

var versionRe = regexp.MustCompile(`_v(\d+)\.tiff?$`)

// LatestVersion returns the file matching pattern with the highest _vN
// suffix. Files without a version suffix rank below any versioned file.
func LatestVersion(fsys fsutil.FileSystem, pattern string) (string, error) {
	matches, err := fsys.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("glob %s: %w", pattern, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no raster matches %s", pattern)
	}
	best, bestV := "", -2
	for _, m := range matches {
		v := -1
		if sm := versionRe.FindStringSubmatch(filepath.Base(m)); sm != nil {
			if n, err := strconv.Atoi(sm[1]); err == nil {
				v = n
			}
		}
		if v > bestV {
			best, bestV = m, v
		}
	}
	return best, nil
}

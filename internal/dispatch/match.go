package dispatch

import (
	"strings"

	"github.com/waabox/dockworker/internal/domain"
)

// highestRunNumber returns the largest run number in runs, if any.
func highestRunNumber(runs []domain.Run) (int64, bool) {
	var (
		highest int64
		found   bool
	)
	for _, r := range runs {
		if !found || r.RunNumber > highest {
			highest = r.RunNumber
			found = true
		}
	}
	return highest, found
}

// matchRun picks the run produced by this request: run number strictly above
// the baseline and the marker in its name. Several candidates resolve to the
// highest run number. In dry-run mode the newest run is taken as is.
func matchRun(runs []domain.Run, baseline int64, hasBaseline bool, marker string, dryRun bool) (domain.Run, bool) {
	var (
		best  domain.Run
		found bool
	)
	for _, r := range runs {
		if !dryRun {
			if hasBaseline && r.RunNumber <= baseline {
				continue
			}
			if !strings.Contains(r.Name, marker) {
				continue
			}
		}
		if !found || r.RunNumber > best.RunNumber {
			best = r
			found = true
		}
	}
	return best, found
}

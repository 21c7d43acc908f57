// Package observe post-processes raw decoder output into the surfaced result list.
package observe

import (
	"sort"

	"github.com/scancam/scancam/internal/vision"
)

// ClampConfidence bounds a configured threshold to the decoder's [0,1] range.
func ClampConfidence(threshold float64) float64 {
	if threshold < 0 {
		return 0
	}
	if threshold > 1 {
		return 1
	}
	return threshold
}

// Refine filters observations to confidence >= threshold and, when the
// allow-list is non-empty, to the allowed symbologies, then orders them by
// confidence descending. Ties keep the decoder's original order.
func Refine(observations []vision.Observation, threshold float64, allow []vision.Symbology) []vision.Observation {
	threshold = ClampConfidence(threshold)

	var allowed map[vision.Symbology]struct{}
	if len(allow) > 0 {
		allowed = make(map[vision.Symbology]struct{}, len(allow))
		for _, symbology := range allow {
			allowed[symbology] = struct{}{}
		}
	}

	refined := make([]vision.Observation, 0, len(observations))
	for _, obs := range observations {
		if obs.Confidence < threshold {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[obs.Symbology]; !ok {
				continue
			}
		}
		refined = append(refined, obs)
	}

	sort.SliceStable(refined, func(i, j int) bool {
		return refined[i].Confidence > refined[j].Confidence
	})
	return refined
}

package registry

// Scorer rates how likely a just-created window is the reincarnation of a
// stored snapshot. The heuristic is pluggable so the algorithm and threshold
// can be swapped or tested independently of the registry's control flow.
type Scorer interface {
	// Score compares the window's tab URLs against a snapshot's tab URLs
	// and returns a similarity in [0, 1].
	Score(windowURLs, snapshotURLs []string) float64
}

// DefaultThreshold is the acceptance bar for reopened-window matching.
// A score must be strictly greater to be accepted.
const DefaultThreshold = 0.70

// URLOverlap scores by distinct-URL set intersection over the smaller set:
// |A ∩ B| / min(|A|, |B|). URL-set similarity is the only recovery signal
// available once the host has discarded the original window ID.
type URLOverlap struct{}

// Score implements Scorer.
func (URLOverlap) Score(windowURLs, snapshotURLs []string) float64 {
	a := distinct(windowURLs)
	b := distinct(snapshotURLs)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	matches := 0
	for u := range a {
		if _, ok := b[u]; ok {
			matches++
		}
	}

	denom := len(a)
	if len(b) < denom {
		denom = len(b)
	}
	return float64(matches) / float64(denom)
}

func distinct(urls []string) map[string]struct{} {
	set := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if u != "" {
			set[u] = struct{}{}
		}
	}
	return set
}

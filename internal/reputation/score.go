package reputation

import (
	"math"
	"time"
)

// Dimension weights, spec.md §4.4.
const (
	WeightUptime     = 0.50
	WeightIntegrity  = 0.20
	WeightStorage    = 0.15
	WeightGeography  = 0.10
	WeightHandshake  = 0.05
)

// UptimeSaturationSeconds is 180 days: the uptime dimension reaches
// its cap after this much cumulative verified presence.
const UptimeSaturationSeconds = 180 * 24 * 60 * 60

// QuarantineDuration is the time-boxed exclusion imposed by an
// equivocation event (spec.md §4.4).
const QuarantineDuration = 180 * 24 * time.Hour

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func uptimeScore(seconds uint64) float64 {
	return math.Min(float64(seconds)/float64(UptimeSaturationSeconds), 1.0)
}

func integrityScore(sum float64) float64 {
	return clamp(1+sum, 0, 1)
}

func storageScore(stored, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return math.Min(float64(stored)/float64(total), 1.0)
}

// regionScore is the shared formula behind both the country and city
// components of the geography dimension: a density term that decays
// as more peers share the region, plus a coverage term rewarding
// having observed more of the target region set.
func regionScore(peersInRegion, regionsSeen, regionsTarget uint64) float64 {
	density := float64(peersInRegion)
	if density < 1 {
		density = 1
	}
	peerTerm := 0.7 * (1.0 / (1.0 + math.Log10(density)))
	var coverageTerm float64
	if regionsTarget > 0 {
		coverageTerm = 0.3 * (float64(regionsSeen) / float64(regionsTarget))
	}
	return peerTerm + coverageTerm
}

func geographyScore(r *record) float64 {
	if !r.hasGeography {
		return 0
	}
	country := regionScore(r.countryPeers, r.regionsSeen, r.regionsTarget)
	if r.firstInCountry {
		country += 0.25
	}
	city := regionScore(r.cityPeers, r.regionsSeen, r.regionsTarget)
	if r.firstInCity {
		city += 0.15
	}
	return clamp(0.6*country+0.4*city, 0, 1)
}

func handshakeScore(bondCount int) float64 {
	return math.Min(float64(bondCount)/10.0, 1.0)
}

// combine applies spec.md §4.4's weighted sum over the five
// dimensions. Each dimension is independently saturated before
// weighting, so no single dimension's burst can push the overall
// score past what its weight allows.
func combine(uptime, integrity, storage, geography, handshake float64) float64 {
	return clamp(
		WeightUptime*uptime+
			WeightIntegrity*integrity+
			WeightStorage*storage+
			WeightGeography*geography+
			WeightHandshake*handshake,
		0, 1,
	)
}

package assignment

import (
	"fmt"
	"math/rand"

	"github.com/CLIAIMONITOR/internal/types"
)

// RangeCatalog resolves a challenge's named frequency ranges to their
// concrete [min,max] bounds (spec.md §4.5.2 form 2). It is supplied by
// configuration at startup.
type RangeCatalog map[string]types.FreqRangeRaw

// sampleFrequency concretizes a challenge's frequency declaration into a
// single Hz value for one dispatch (spec.md §4.5.2).
func sampleFrequency(spec types.FrequencySpec, catalog RangeCatalog) (int64, error) {
	switch spec.Kind {
	case types.FrequencySingle:
		return spec.SingleHz, nil

	case types.FrequencyManual:
		if spec.Manual == nil {
			return 0, fmt.Errorf("manual frequency spec missing range")
		}
		return sampleInRange(*spec.Manual), nil

	case types.FrequencyNamedRange:
		if len(spec.NamedRanges) == 0 {
			return 0, fmt.Errorf("named-range frequency spec declares no ranges")
		}
		name := spec.NamedRanges[rand.Intn(len(spec.NamedRanges))]
		r, ok := catalog[name]
		if !ok {
			return 0, fmt.Errorf("unknown named frequency range %q", name)
		}
		return sampleInRange(r), nil

	default:
		return 0, fmt.Errorf("unknown frequency kind %q", spec.Kind)
	}
}

// randFloat returns a uniform random value in [0,1) for tie-break jitter
// (spec.md §4.5.4).
func randFloat() float64 {
	return rand.Float64()
}

func sampleInRange(r types.FreqRangeRaw) int64 {
	if r.MaxHz <= r.MinHz {
		return r.MinHz
	}
	span := r.MaxHz - r.MinHz + 1
	return r.MinHz + rand.Int63n(span)
}

// freqAllowedForAgent reports whether freqHz falls within the declared
// limits of some enabled device on the agent. An agent whose enabled
// devices declare no limits at all permits any frequency (spec.md §4.5.3
// final bullet).
func freqAllowedForAgent(devices []types.DeviceDescriptor, freqHz int64) bool {
	anyLimits := false
	for _, d := range devices {
		if !d.Enabled || len(d.FreqLimitHz) == 0 {
			continue
		}
		anyLimits = true
		for _, r := range d.FreqLimitHz {
			if r.Contains(freqHz) {
				return true
			}
		}
	}
	return !anyLimits
}

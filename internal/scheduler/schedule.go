package scheduler

import (
	"math"

	"github.com/tanged123/hermes/internal/xerror"
)

// RawScheduleEntry is one module's configured rate, before resolution
// against the major rate.
type RawScheduleEntry struct {
	Name string
	// RateHz is the module's own rate. Zero means "use the major rate".
	RateHz float64
}

// ResolvedEntry is a schedule entry after MajorDtNs/substeps/dt have
// been computed and integer-ratio validated.
type ResolvedEntry struct {
	Name      string
	Substeps  int
	DtSeconds float64
}

const integerRatioTolerance = 1e-6

// MajorRateHz picks the major rate per spec.md §4.F: it seeds from
// configured (the entries' default rate) and lowers to any entry's
// own rate that is smaller and positive. A defaulted entry therefore
// participates in the minimum at the configured rate, same as an
// entry that spells it out explicitly. A non-positive configured rate
// counts as unset, so the smallest positive entry rate is used. If no
// positive rate is found the major rate is undefined and an error is
// returned.
func MajorRateHz(entries []RawScheduleEntry, configured float64) (float64, error) {
	majorRateHz := configured
	for _, e := range entries {
		if e.RateHz <= 0 {
			continue
		}
		if majorRateHz <= 0 || e.RateHz < majorRateHz {
			majorRateHz = e.RateHz
		}
	}
	if majorRateHz <= 0 {
		return 0, xerror.NewConfigError("schedule: no module rate and no configured rate_hz")
	}
	return majorRateHz, nil
}

// MajorDtNs computes round(1e9 / major_rate_hz).
func MajorDtNs(majorRateHz float64) uint64 {
	return uint64(math.Round(1e9 / majorRateHz))
}

// Resolve computes substeps and dt_seconds for every entry, defaulting
// a zero RateHz to majorRateHz, and rejects ratios not within 1e-6 of
// an integer.
func Resolve(entries []RawScheduleEntry, majorRateHz float64) ([]ResolvedEntry, error) {
	out := make([]ResolvedEntry, 0, len(entries))
	for _, e := range entries {
		rate := e.RateHz
		if rate <= 0 {
			rate = majorRateHz
		}
		ratio := rate / majorRateHz
		rounded := math.Round(ratio)
		if rounded < 1 || math.Abs(ratio-rounded) > integerRatioTolerance {
			return nil, xerror.NewConfigError(
				"schedule: module %s rate %g Hz is not an integer multiple of major rate %g Hz",
				e.Name, rate, majorRateHz)
		}
		out = append(out, ResolvedEntry{
			Name:      e.Name,
			Substeps:  int(rounded),
			DtSeconds: 1.0 / rate,
		})
	}
	return out, nil
}

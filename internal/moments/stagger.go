package moments

import (
	"math"

	"github.com/banshee-data/xpol2mom/internal/monitoring"
)

// StaggerRatio returns the M/N ratio for a short and long PRT pair. The
// ratio is detected from the nearest sixtieth; unknown ratios fall back
// to 2/3 with ok false.
func StaggerRatio(prtShort, prtLong float64) (m, n int, ok bool) {
	ratio60 := int(prtShort/prtLong*60.0 + 0.5)
	switch ratio60 {
	case 40:
		return 2, 3, true
	case 45:
		return 3, 4, true
	case 48:
		return 4, 5, true
	default:
		return 2, 3, false
	}
}

// Stagger holds the Nyquist velocities and unfolding table for one
// staggered PRT configuration. It is immutable once built.
type Stagger struct {
	PrtShort    float64
	PrtLong     float64
	WavelengthM float64

	M, N int

	NyquistShort float64
	NyquistLong  float64
	// Nyquist is the extended unambiguous velocity, M·NyquistShort.
	Nyquist float64

	// L is the largest unfold interval magnitude.
	L int

	table []int
	bias  int
}

// NewStagger detects the PRT ratio and builds the unfolding table.
func NewStagger(prtShort, prtLong, wavelengthM float64) *Stagger {
	m, n, ok := StaggerRatio(prtShort, prtLong)
	if !ok {
		monitoring.Logf("moments: stagger ratio %.4f not one of 2/3, 3/4, 4/5; using 2/3",
			prtShort/prtLong)
	}
	s := &Stagger{
		PrtShort:     prtShort,
		PrtLong:      prtLong,
		WavelengthM:  wavelengthM,
		M:            m,
		N:            n,
		NyquistShort: wavelengthM / (4 * prtShort),
		NyquistLong:  wavelengthM / (4 * prtLong),
	}
	s.Nyquist = float64(m) * s.NyquistShort
	s.buildTable()
	return s
}

// Matches reports whether s was built for the given PRTs and wavelength.
func (s *Stagger) Matches(prtShort, prtLong, wavelengthM float64) bool {
	return s.PrtShort == prtShort && s.PrtLong == prtLong && s.WavelengthM == wavelengthM
}

func (s *Stagger) buildTable() {
	s.L = (s.M + s.N - 1) / 2
	if s.L > 5 {
		s.L = 2
	}

	// Walk the offsets once to size the arena.
	type step struct{ cc, pp int }
	steps := make([]step, 0, s.L)
	cc, pp, span := 0, 0, s.L
	for ll := 1; ll <= s.L; ll++ {
		if ll%2 == 0 {
			cc -= s.N
			pp++
		} else {
			cc += s.M
		}
		steps = append(steps, step{cc, pp})
		if a := abs(cc); a > span {
			span = a
		}
	}

	s.bias = span
	s.table = make([]int, 2*span+1)
	for _, st := range steps {
		s.table[s.bias+st.cc] = st.pp
		s.table[s.bias-st.cc] = -st.pp
	}
}

// At returns the unfold multiple for offset k. Offsets outside the
// table report ok false.
func (s *Stagger) At(k int) (int, bool) {
	i := k + s.bias
	if i < 0 || i >= len(s.table) {
		return 0, false
	}
	return s.table[i], true
}

// Span returns the largest offset magnitude the table holds.
func (s *Stagger) Span() int { return s.bias }

// Unfolded is the result of dealiasing one gate.
type Unfolded struct {
	Vel      float64
	Diff     float64
	Interval int
}

// Unfold combines the short- and long-PRT velocity estimates into a
// velocity within ±Nyquist.
func (s *Stagger) Unfold(velShort, velLong float64) Unfolded {
	diff := velShort - velLong
	k := 0
	if nd := s.NyquistShort - s.NyquistLong; nd != 0 && !math.IsNaN(diff) {
		k = int(math.Floor((diff/nd)/2.0 + 0.5))
	}
	if k < -s.L {
		k = -s.L
	} else if k > s.L {
		k = s.L
	}
	pp, _ := s.At(k)
	return Unfolded{
		Vel:      velShort + float64(pp)*s.NyquistShort*2,
		Diff:     diff,
		Interval: pp,
	}
}

// StagWidth estimates spectrum width from the ratio of autocorrelation
// magnitudes rA and rB at lags lagA and lagB. It returns 0 when rA does
// not exceed rB and +Inf when rB is zero; callers constrain the result.
func StagWidth(rA, rB float64, lagA, lagB int, nyquist float64) float64 {
	if !(rA > rB) {
		return 0
	}
	factor := nyquist / (math.Pi * math.Sqrt(float64(lagB*lagB-lagA*lagA)/2.0))
	return math.Sqrt(math.Log(rA/rB)) * factor
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

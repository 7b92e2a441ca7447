package stats

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrTooFewObservations is returned when a test lacks the data it needs.
var ErrTooFewObservations = errors.New("too few observations")

// TestResult is the outcome of a two-sample test.
type TestResult struct {
	Statistic float64 `json:"statistic"`
	PValue    float64 `json:"pval"`
}

// WelchTTest runs a two-sided Welch t-test.
func WelchTTest(a, b []float64) (TestResult, error) {
	if len(a) < 2 || len(b) < 2 {
		return TestResult{}, ErrTooFewObservations
	}
	ma, va := stat.MeanVariance(a, nil)
	mb, vb := stat.MeanVariance(b, nil)
	na, nb := float64(len(a)), float64(len(b))
	se2 := va/na + vb/nb
	if se2 == 0 {
		if ma == mb {
			return TestResult{Statistic: 0, PValue: 1}, nil
		}
		return TestResult{Statistic: math.Inf(sign(ma - mb)), PValue: 0}, nil
	}
	t := (ma - mb) / math.Sqrt(se2)
	df := se2 * se2 / ((va/na)*(va/na)/(na-1) + (vb/nb)*(vb/nb)/(nb-1))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return TestResult{Statistic: t, PValue: 2 * dist.Survival(math.Abs(t))}, nil
}

// MannWhitney runs a two-sided Wilcoxon rank-sum test using the normal
// approximation with tie correction.
func MannWhitney(a, b []float64) (TestResult, error) {
	if len(a) == 0 || len(b) == 0 {
		return TestResult{}, ErrTooFewObservations
	}
	all := append(append([]float64(nil), a...), b...)
	ranks, ties := Ranks(all)
	var ra float64
	for i := range a {
		ra += ranks[i]
	}
	na, nb := float64(len(a)), float64(len(b))
	n := na + nb
	u := ra - na*(na+1)/2
	mu := na * nb / 2
	sigma2 := na * nb / 12 * ((n + 1) - ties/(n*(n-1)))
	if sigma2 <= 0 {
		return TestResult{Statistic: u, PValue: 1}, nil
	}
	z := (math.Abs(u-mu) - 0.5) / math.Sqrt(sigma2)
	if z < 0 {
		z = 0
	}
	return TestResult{Statistic: u, PValue: math.Min(1, 2*distuv.UnitNormal.Survival(z))}, nil
}

// Ranks returns average ranks (1-based) and the tie term sum(t^3 - t).
func Ranks(x []float64) ([]float64, float64) {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return x[idx[i]] < x[idx[j]] })
	ranks := make([]float64, len(x))
	var ties float64
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && x[idx[j+1]] == x[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		t := float64(j - i + 1)
		ties += t*t*t - t
		i = j + 1
	}
	return ranks, ties
}

// FisherExact runs a two-sided Fisher exact test on the 2x2 table
// [[a, b], [c, d]].
func FisherExact(a, b, c, d int) TestResult {
	r1, c1, n := a+b, a+c, a+b+c+d
	observed := hypergeom(a, r1, c1, n)
	lo := max(0, r1+c1-n)
	hi := min(r1, c1)
	var p float64
	for x := lo; x <= hi; x++ {
		px := hypergeom(x, r1, c1, n)
		if px <= observed*(1+1e-7) {
			p += px
		}
	}
	odds := math.Inf(1)
	if b*c != 0 {
		odds = float64(a*d) / float64(b*c)
	}
	return TestResult{Statistic: odds, PValue: math.Min(1, p)}
}

func hypergeom(x, r1, c1, n int) float64 {
	return math.Exp(lchoose(r1, x) + lchoose(n-r1, c1-x) - lchoose(n, c1))
}

func lchoose(n, k int) float64 {
	a, _ := math.Lgamma(float64(n + 1))
	b, _ := math.Lgamma(float64(k + 1))
	c, _ := math.Lgamma(float64(n - k + 1))
	return a - b - c
}

// CorrelationMethod names a correlation coefficient.
type CorrelationMethod string

const (
	Pearson  CorrelationMethod = "pearson"
	Spearman CorrelationMethod = "spearman"
)

// Correlate returns the coefficient and its two-sided p-value from the
// t distribution with n-2 degrees of freedom.
func Correlate(method CorrelationMethod, x, y []float64) (TestResult, error) {
	if len(x) != len(y) || len(x) < 3 {
		return TestResult{}, ErrTooFewObservations
	}
	if method == Spearman {
		x, _ = Ranks(x)
		y, _ = Ranks(y)
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return TestResult{Statistic: math.NaN(), PValue: math.NaN()}, nil
	}
	df := float64(len(x) - 2)
	if math.Abs(r) >= 1 {
		return TestResult{Statistic: r, PValue: 0}, nil
	}
	t := r * math.Sqrt(df/(1-r*r))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return TestResult{Statistic: r, PValue: 2 * dist.Survival(math.Abs(t))}, nil
}

// AdjustBH applies the Benjamini-Hochberg false discovery rate correction.
// NaN inputs stay NaN.
func AdjustBH(p []float64) []float64 {
	type entry struct {
		i int
		p float64
	}
	var valid []entry
	for i, v := range p {
		if !math.IsNaN(v) {
			valid = append(valid, entry{i, v})
		}
	}
	out := make([]float64, len(p))
	for i := range out {
		out[i] = math.NaN()
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].p > valid[j].p })
	m := float64(len(valid))
	prev := 1.0
	for k, e := range valid {
		rank := m - float64(k)
		adj := math.Min(prev, e.p*m/rank)
		prev = adj
		out[e.i] = adj
	}
	return out
}

func sign(x float64) int {
	if x < 0 {
		return -1
	}
	return 1
}

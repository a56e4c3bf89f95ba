package strategy

import (
	"math"

	"tradejournal/internal/domain"
)

// All indicators return a slice aligned to the input with NaN during warmup.
// Output[i] depends only on input[0..i].

// Closes extracts closing prices.
func Closes(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].Close
	}
	return out
}

// Highs extracts high prices.
func Highs(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].High
	}
	return out
}

// Lows extracts low prices.
func Lows(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i] = bars[i].Low
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMA is the simple moving average over the last p values. A window
// containing a NaN yields NaN.
func SMA(x []float64, p int) []float64 {
	out := nanSlice(len(x))
	if p <= 0 {
		return out
	}
	var sum float64
	lastNaN := -1
	for i, v := range x {
		if math.IsNaN(v) {
			lastNaN = i
		} else {
			sum += v
		}
		if i >= p {
			if old := x[i-p]; !math.IsNaN(old) {
				sum -= old
			}
		}
		if i >= p-1 && lastNaN <= i-p {
			out[i] = sum / float64(p)
		}
	}
	return out
}

// EMA uses smoothing 2/(p+1), seeded with the SMA of the first p valid
// values. Leading NaNs in x are skipped, so EMA can run over another
// indicator's output.
func EMA(x []float64, p int) []float64 {
	out := nanSlice(len(x))
	if p <= 0 {
		return out
	}
	start := 0
	for start < len(x) && math.IsNaN(x[start]) {
		start++
	}
	if len(x)-start < p {
		return out
	}

	var seed float64
	for i := start; i < start+p; i++ {
		seed += x[i]
	}
	out[start+p-1] = seed / float64(p)

	k := 2.0 / float64(p+1)
	for i := start + p; i < len(x); i++ {
		out[i] = (x[i]-out[i-1])*k + out[i-1]
	}
	return out
}

// RSI is Wilder's relative strength index. The first value is at index p.
func RSI(x []float64, p int) []float64 {
	out := nanSlice(len(x))
	if p <= 0 || len(x) <= p {
		return out
	}

	var gain, loss float64
	for i := 1; i <= p; i++ {
		d := x[i] - x[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(p)
	avgLoss := loss / float64(p)
	out[p] = rsiValue(avgGain, avgLoss)

	for i := p + 1; i < len(x); i++ {
		d := x[i] - x[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(p-1) + g) / float64(p)
		avgLoss = (avgLoss*float64(p-1) + l) / float64(p)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// StdDev is the rolling population standard deviation over p values. Sums
// are kept relative to the first finite value and recomputed once per p
// steps to bound rounding drift.
func StdDev(x []float64, p int) []float64 {
	out := nanSlice(len(x))
	if p <= 0 {
		return out
	}
	var (
		sum, sq float64
		shift   float64
		shifted bool
		lastNaN = -1
		n       = float64(p)
	)
	for i, v := range x {
		if math.IsNaN(v) {
			lastNaN = i
		} else {
			if !shifted {
				shift, shifted = v, true
			}
			d := v - shift
			sum += d
			sq += d * d
		}
		if i >= p {
			if old := x[i-p]; !math.IsNaN(old) {
				d := old - shift
				sum -= d
				sq -= d * d
			}
		}
		if i >= p-1 && (i+1-p)%p == 0 {
			sum, sq = 0, 0
			for _, w := range x[i-p+1 : i+1] {
				if !math.IsNaN(w) {
					d := w - shift
					sum += d
					sq += d * d
				}
			}
		}
		if i >= p-1 && lastNaN <= i-p {
			out[i] = math.Sqrt(math.Max(0, (sq-sum*sum/n)/n))
		}
	}
	return out
}

// Highest is the rolling maximum over p values.
func Highest(x []float64, p int) []float64 {
	return rollingExtreme(x, p, func(a, b float64) bool { return a >= b })
}

// Lowest is the rolling minimum over p values.
func Lowest(x []float64, p int) []float64 {
	return rollingExtreme(x, p, func(a, b float64) bool { return a <= b })
}

// rollingExtreme keeps a monotonic queue of indices whose values are not
// dominated by a later value; the front is the extreme of the window.
func rollingExtreme(x []float64, p int, dominates func(a, b float64) bool) []float64 {
	out := nanSlice(len(x))
	if p <= 0 {
		return out
	}
	q := make([]int, 0, min(p, len(x)))
	head := 0
	lastNaN := -1
	for i, v := range x {
		if math.IsNaN(v) {
			lastNaN = i
		} else {
			for len(q) > head && dominates(v, x[q[len(q)-1]]) {
				q = q[:len(q)-1]
			}
			q = append(q, i)
		}
		if len(q) > head && q[head] <= i-p {
			head++
		}
		if i >= p-1 && lastNaN <= i-p {
			out[i] = x[q[head]]
		}
		if head > p && head*2 > len(q) {
			q = append(q[:0], q[head:]...)
			head = 0
		}
	}
	return out
}

// CrossedAbove reports whether a moved from at-or-below b to above b.
// Any NaN input yields false.
func CrossedAbove(prevA, prevB, a, b float64) bool {
	if anyNaN(prevA, prevB, a, b) {
		return false
	}
	return prevA <= prevB && a > b
}

// CrossedBelow reports whether a moved from at-or-above b to below b.
func CrossedBelow(prevA, prevB, a, b float64) bool {
	if anyNaN(prevA, prevB, a, b) {
		return false
	}
	return prevA >= prevB && a < b
}

func anyNaN(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

package quant

import "math"

// olsHedgeRatio fits y = beta*x + alpha by OLS and returns beta, the
// spread's hedge ratio. Equivalent to Cov(x, y) / Var(x) since the
// intercept term drops out of the slope estimate.
func olsHedgeRatio(y, x []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	xMean := mean(x)
	yMean := mean(y)

	var num, den float64
	for i := range x {
		dx := x[i] - xMean
		num += dx * (y[i] - yMean)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// spreadSeries computes prices_a - hedgeRatio*prices_b element-wise.
func spreadSeries(a, b []float64, hedgeRatio float64) []float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] - hedgeRatio*b[i]
	}
	return out
}

// zscore returns the z-score of the series' last value against the mean
// and standard deviation of its trailing window (or the whole series if
// shorter than window).
func zscore(series []float64, window int) float64 {
	if window > len(series) {
		window = len(series)
	}
	if window < 2 {
		return 0
	}
	recent := series[len(series)-window:]
	m := mean(recent)
	sd := stddev(recent, m)
	if sd == 0 {
		return 0
	}
	return (series[len(series)-1] - m) / sd
}

// correlation returns the Pearson correlation coefficient of x and y over
// their trailing window (or the whole series if shorter).
func correlation(x, y []float64, window int) float64 {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	if n < 2 {
		return 0
	}
	if window > n {
		window = n
	}
	xr := x[len(x)-window:]
	yr := y[len(y)-window:]

	xm := mean(xr)
	ym := mean(yr)

	var sxy, sxx, syy float64
	for i := range xr {
		dx := xr[i] - xm
		dy := yr[i] - ym
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	denom := math.Sqrt(sxx * syy)
	if denom == 0 {
		return 0
	}
	c := sxy / denom
	if math.IsNaN(c) {
		return 0
	}
	return c
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range xs {
		sum += v
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, m float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range xs {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)))
}

// adfResult is the outcome of an Augmented Dickey-Fuller stationarity
// test: the test statistic, its approximate p-value, and whether the
// series is judged stationary at the 5% significance level.
type adfResult struct {
	Statistic    float64
	PValue       float64
	IsStationary bool
}

// adfTest runs the Augmented Dickey-Fuller test with the regression
// Δy_t = α + γ·y_{t-1} + Σδ_i·Δy_{t-i} + ε_t, selecting the lag order
// in [0, maxLag] that minimizes AIC (mirroring autolag='AIC'), then
// testing γ=0 via its OLS t-statistic against MacKinnon's response
// surface for the constant-only case. Returns false if the series is
// too short to support even a zero-lag regression.
func adfTest(series []float64) (adfResult, bool) {
	n := len(series)
	if n < 8 {
		return adfResult{}, false
	}

	maxLag := int(12 * math.Pow(float64(n)/100, 0.25))
	if maxLag < 0 {
		maxLag = 0
	}
	// Leave enough observations to fit const + level + maxLag difference
	// terms with a handful of residual degrees of freedom.
	for maxLag > 0 && n-1-maxLag < maxLag+4 {
		maxLag--
	}

	dy := make([]float64, n-1)
	for t := 1; t < n; t++ {
		dy[t-1] = series[t] - series[t-1]
	}

	bestAIC := math.Inf(1)
	var best adfResult
	found := false

	for lag := 0; lag <= maxLag; lag++ {
		res, ok := fitADFRegression(series, dy, lag)
		if !ok {
			continue
		}
		if res.aic < bestAIC {
			bestAIC = res.aic
			best = adfResult{Statistic: res.tStat}
			found = true
		}
	}
	if !found {
		return adfResult{}, false
	}

	nobs := n - 1 - maxLag
	pValue := adfPValue(best.Statistic)
	crit5 := macKinnonCritical(0.05, nobs)
	best.PValue = pValue
	best.IsStationary = best.Statistic < crit5
	return best, true
}

type adfFit struct {
	tStat float64
	aic   float64
}

// fitADFRegression builds the regressor matrix for a given augmentation
// lag and solves the OLS normal equations directly.
func fitADFRegression(levels, dy []float64, lag int) (adfFit, bool) {
	n := len(levels)
	// Observations run from t=lag+1..n-1 in level-index terms.
	start := lag + 1
	nobs := n - start
	if nobs < lag+3 {
		return adfFit{}, false
	}

	k := 2 + lag // const, level, lag difference terms
	rows := make([][]float64, nobs)
	yvec := make([]float64, nobs)
	for i, t := 0, start; t < n; i, t = i+1, t+1 {
		row := make([]float64, k)
		row[0] = 1
		row[1] = levels[t-1]
		for l := 1; l <= lag; l++ {
			row[1+l] = dy[t-1-l]
		}
		rows[i] = row
		yvec[i] = dy[t-1]
	}

	beta, rss, invXTX, ok := olsMultiple(rows, yvec)
	if !ok {
		return adfFit{}, false
	}

	seLevel, ok := olsStdError(rows, rss, invXTX, 1)
	if !ok || seLevel == 0 {
		return adfFit{}, false
	}

	aic := float64(nobs)*math.Log(rss/float64(nobs)) + 2*float64(k)
	return adfFit{tStat: beta[1] / seLevel, aic: aic}, true
}

// olsMultiple solves the normal equations (XᵀX)β = Xᵀy via Gauss-Jordan
// elimination and returns β, the residual sum of squares, and (XᵀX)⁻¹ so
// callers can derive coefficient standard errors without a second pass.
func olsMultiple(rows [][]float64, y []float64) ([]float64, float64, [][]float64, bool) {
	k := len(rows[0])
	xtx := make([][]float64, k)
	xty := make([]float64, k)
	for i := range xtx {
		xtx[i] = make([]float64, k)
	}
	for r, row := range rows {
		for i := 0; i < k; i++ {
			xty[i] += row[i] * y[r]
			for j := 0; j < k; j++ {
				xtx[i][j] += row[i] * row[j]
			}
		}
	}

	inv, ok := invertMatrix(xtx)
	if !ok {
		return nil, 0, nil, false
	}

	beta := make([]float64, k)
	for i := 0; i < k; i++ {
		var sum float64
		for j := 0; j < k; j++ {
			sum += inv[i][j] * xty[j]
		}
		beta[i] = sum
	}

	var rss float64
	for r, row := range rows {
		var fitted float64
		for i := 0; i < k; i++ {
			fitted += row[i] * beta[i]
		}
		resid := y[r] - fitted
		rss += resid * resid
	}

	return beta, rss, inv, true
}

// olsStdError returns the standard error of the coefficient at index
// coefIdx, computed from the residual variance and (XᵀX)⁻¹.
func olsStdError(rows [][]float64, rss float64, invXTX [][]float64, coefIdx int) (float64, bool) {
	n := len(rows)
	k := len(rows[0])
	dof := n - k
	if dof <= 0 {
		return 0, false
	}
	sigma2 := rss / float64(dof)
	variance := sigma2 * invXTX[coefIdx][coefIdx]
	if variance < 0 {
		return 0, false
	}
	return math.Sqrt(variance), true
}

// invertMatrix inverts a square matrix via Gauss-Jordan elimination with
// partial pivoting. Matrices here are small (const + level + a handful of
// lag terms), so no need for anything more specialized.
func invertMatrix(m [][]float64) ([][]float64, bool) {
	n := len(m)
	aug := make([][]float64, n)
	for i := 0; i < n; i++ {
		aug[i] = make([]float64, 2*n)
		copy(aug[i], m[i])
		aug[i][n+i] = 1
	}

	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(aug[r][col]) > math.Abs(aug[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(aug[pivot][col]) < 1e-12 {
			return nil, false
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]

		pv := aug[col][col]
		for c := 0; c < 2*n; c++ {
			aug[col][c] /= pv
		}
		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			factor := aug[r][col]
			if factor == 0 {
				continue
			}
			for c := 0; c < 2*n; c++ {
				aug[r][c] -= factor * aug[col][c]
			}
		}
	}

	inv := make([][]float64, n)
	for i := 0; i < n; i++ {
		inv[i] = make([]float64, n)
		copy(inv[i], aug[i][n:])
	}
	return inv, true
}

// macKinnonCritical approximates the ADF critical value for the
// constant-only regression case using MacKinnon's (1991) finite-sample
// response surface: crit(T) = inf + b1/T + b2/T^2.
func macKinnonCritical(alpha float64, nobs int) float64 {
	var inf, b1, b2 float64
	switch {
	case alpha <= 0.01:
		inf, b1, b2 = -3.4336, -5.999, -29.25
	case alpha <= 0.05:
		inf, b1, b2 = -2.8621, -2.738, -8.36
	default:
		inf, b1, b2 = -2.5671, -1.438, -4.48
	}
	t := float64(nobs)
	return inf + b1/t + b2/(t*t)
}

// adfPValue approximates a p-value by linearly interpolating the test
// statistic against the 1%/5%/10% critical values. Below the 1% value it
// returns 0.01; above the 10% value it rises by 0.05 per unit of the
// statistic, capped at 0.999. This trades MacKinnon's exact response-surface
// p-value for a close approximation that needs no surface regression
// table of its own.
func adfPValue(stat float64) float64 {
	const nobs = 200 // critical values converge quickly; nobs barely matters past ~100
	c01 := macKinnonCritical(0.01, nobs)
	c05 := macKinnonCritical(0.05, nobs)
	c10 := macKinnonCritical(0.10, nobs)

	switch {
	case stat <= c01:
		return 0.01
	case stat <= c05:
		return interpolate(stat, c01, 0.01, c05, 0.05)
	case stat <= c10:
		return interpolate(stat, c05, 0.05, c10, 0.10)
	default:
		// Beyond the 10% critical value, approach 1.0 smoothly rather
		// than clamping, so near-random-walk spreads don't all report
		// an identical p-value.
		p := 0.10 + (stat-c10)*0.05
		if p > 0.999 {
			p = 0.999
		}
		return p
	}
}

func interpolate(x, x0, y0, x1, y1 float64) float64 {
	if x1 == x0 {
		return y0
	}
	return y0 + (x-x0)*(y1-y0)/(x1-x0)
}

package tonal

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/RyanBlaney/sonido-tuner/algorithms/common"
	"github.com/RyanBlaney/sonido-tuner/algorithms/harmonic"
)

// ErrInsufficientPartials is returned when too few partials are available
// to fit the stiff-string model.
var ErrInsufficientPartials = errors.New("insufficient partials for inharmonicity fit")

// ErrFitDiverged is returned when the fit leaves the domain of the model
var ErrFitDiverged = errors.New("inharmonicity fit diverged")

// InharmonicityParams contains parameters for the stiff-string fit
//
//	f_n = n * f0 * sqrt(1 + B * n^2)
type InharmonicityParams struct {
	MinPartials   int     `json:"min_partials" yaml:"min_partials" mapstructure:"min_partials"`
	MaxPlausibleB float64 `json:"max_plausible_b" yaml:"max_plausible_b" mapstructure:"max_plausible_b"`

	// FixFundamental holds f0 at the caller's value and fits B alone.
	// By default f0 and B are fitted jointly, which removes the bias of a
	// pitch estimate that already contains the stretch of the first partial.
	FixFundamental bool `json:"fix_fundamental" yaml:"fix_fundamental" mapstructure:"fix_fundamental"`

	MaxIterations int `json:"max_iterations" yaml:"max_iterations" mapstructure:"max_iterations"`
}

// DefaultInharmonicityParams returns the standard fit settings
func DefaultInharmonicityParams() InharmonicityParams {
	return InharmonicityParams{
		MinPartials:   3,
		MaxPlausibleB: 0.05,
		MaxIterations: 50,
	}
}

// Validate checks the parameter ranges
func (p InharmonicityParams) Validate() error {
	var errs []error
	if p.MinPartials < 3 {
		errs = append(errs, fmt.Errorf("min_partials must be at least 3, got %d", p.MinPartials))
	}
	if p.MaxPlausibleB <= 0 {
		errs = append(errs, fmt.Errorf("max_plausible_b must be positive, got %g", p.MaxPlausibleB))
	}
	if p.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("max_iterations must be positive, got %d", p.MaxIterations))
	}
	return errors.Join(errs...)
}

// InharmonicityProfile is one measured string.
type InharmonicityProfile struct {
	Note          Note               `json:"note" yaml:"note"`
	MeasuredPitch float64            `json:"measured_pitch" yaml:"measured_pitch"` // pitch estimate the fit started from (Hz)
	F0            float64            `json:"f0" yaml:"f0"`                         // fitted ideal-string fundamental (Hz)
	B             float64            `json:"b" yaml:"b"`
	Partials      []harmonic.Partial `json:"partials" yaml:"partials"`
	Residual      float64            `json:"residual" yaml:"residual"`             // RMS fit error (Hz)
	ResidualCents float64            `json:"residual_cents" yaml:"residual_cents"` // RMS fit error (cents)
	Confidence    float64            `json:"confidence" yaml:"confidence"`
	Plausible     bool               `json:"plausible" yaml:"plausible"` // 0 < B < MaxPlausibleB
	CreatedAt     time.Time          `json:"created_at" yaml:"created_at"`
}

// PartialFrequency returns the model frequency of partial n.
func (p *InharmonicityProfile) PartialFrequency(n int) float64 {
	fn := float64(n)
	return fn * p.F0 * math.Sqrt(1+p.B*fn*fn)
}

// Classification returns a coarse label for the fitted B
func (p *InharmonicityProfile) Classification() string {
	return ClassifyInharmonicity(p.B)
}

// InharmonicityEstimator fits B to a set of measured partials.
// It holds no per-call state and is safe for concurrent use.
type InharmonicityEstimator struct {
	params InharmonicityParams
	tuning *Tuning
	now    func() time.Time
}

// NewInharmonicityEstimator creates an estimator. A nil tuning uses A4 = 440 Hz.
func NewInharmonicityEstimator(params InharmonicityParams, tuning *Tuning) (*InharmonicityEstimator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if tuning == nil {
		tuning = DefaultTuning()
	}
	return &InharmonicityEstimator{
		params: params,
		tuning: tuning,
		now:    time.Now,
	}, nil
}

// Params returns the estimator parameters
func (e *InharmonicityEstimator) Params() InharmonicityParams {
	return e.params
}

// Estimate fits the stiff-string model to partials. f0 is the detected
// pitch; it names the note, seeds the fit when the linearised estimate is
// unusable, and is held fixed when FixFundamental is set.
func (e *InharmonicityEstimator) Estimate(partials []harmonic.Partial, f0 float64) (*InharmonicityProfile, error) {
	usable := usablePartials(partials)
	if len(usable) < e.params.MinPartials {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientPartials, len(usable), e.params.MinPartials)
	}
	if e.params.FixFundamental && !(f0 > 0) {
		return nil, fmt.Errorf("fixed-fundamental fit requires a positive f0, got %g", f0)
	}

	ns := make([]float64, len(usable))
	fs := make([]float64, len(usable))
	for i, p := range usable {
		ns[i] = float64(p.Index)
		fs[i] = p.Frequency
	}

	fitF0, fitB := e.seed(ns, fs, f0)
	fitF0, fitB = e.refine(ns, fs, fitF0, fitB)

	residual, residualCents, err := fitResiduals(ns, fs, fitF0, fitB)
	if err != nil {
		return nil, err
	}

	measured := f0
	if !(measured > 0) {
		measured = fitF0 * math.Sqrt(1+fitB)
	}
	note, _, ok := e.tuning.Nearest(measured)
	if !ok {
		return nil, fmt.Errorf("%w: no key for measured pitch %g", ErrFitDiverged, measured)
	}

	out := make([]harmonic.Partial, len(usable))
	copy(out, usable)

	return &InharmonicityProfile{
		Note:          note,
		MeasuredPitch: measured,
		F0:            fitF0,
		B:             fitB,
		Partials:      out,
		Residual:      residual,
		ResidualCents: residualCents,
		Confidence:    1 / (1 + residualCents),
		Plausible:     fitB > 0 && fitB < e.params.MaxPlausibleB,
		CreatedAt:     e.now(),
	}, nil
}

// usablePartials keeps finite, positive partials, one per index, sorted by index.
func usablePartials(partials []harmonic.Partial) []harmonic.Partial {
	seen := make(map[int]bool, len(partials))
	out := make([]harmonic.Partial, 0, len(partials))
	for _, p := range partials {
		if p.Index < 1 || !(p.Frequency > 0) || math.IsInf(p.Frequency, 0) || seen[p.Index] {
			continue
		}
		seen[p.Index] = true
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// seed linearises the model: (f_n/n)^2 = f0^2 + f0^2*B*n^2, so a straight
// line through (n^2, (f_n/n)^2) has intercept f0^2 and slope f0^2*B.
func (e *InharmonicityEstimator) seed(ns, fs []float64, f0 float64) (float64, float64) {
	if e.params.FixFundamental {
		sum := 0.0
		for i, n := range ns {
			r := fs[i] / (n * f0)
			sum += (r*r - 1) / (n * n)
		}
		return f0, feasibleB(ns, sum/float64(len(ns)))
	}

	x := make([]float64, len(ns))
	y := make([]float64, len(ns))
	for i, n := range ns {
		x[i] = n * n
		r := fs[i] / n
		y[i] = r * r
	}

	slope, intercept, _ := common.LinRegression(x, y)
	if intercept > 0 && !math.IsNaN(slope) {
		return math.Sqrt(intercept), feasibleB(ns, slope/intercept)
	}

	if f0 > 0 {
		return f0, 0
	}
	return fs[0] / ns[0], 0
}

// feasibleB drops a seed B for which 1+B*n^2 is not positive at the
// highest partial; the model has no real value there.
func feasibleB(ns []float64, b float64) float64 {
	nMax := ns[len(ns)-1]
	if math.IsNaN(b) || math.IsInf(b, 0) || 1+b*nMax*nMax <= 0 {
		return 0
	}
	return b
}

// refine minimises the squared frequency error with Levenberg-Marquardt.
func (e *InharmonicityEstimator) refine(ns, fs []float64, f0, b float64) (float64, float64) {
	params := 2
	if e.params.FixFundamental {
		params = 1
	}

	cost := sumSquares(ns, fs, f0, b)
	lambda := 1e-3

	jtj := make([]float64, params*params)
	jtr := make([]float64, params)

	for iter := 0; iter < e.params.MaxIterations; iter++ {
		for i := range jtj {
			jtj[i] = 0
		}
		for i := range jtr {
			jtr[i] = 0
		}

		for i, n := range ns {
			s := math.Sqrt(1 + b*n*n)
			r := fs[i] - n*f0*s

			dB := n * n * n * f0 / (2 * s)
			if params == 1 {
				jtj[0] += dB * dB
				jtr[0] += dB * r
				continue
			}

			dF := n * s
			jtj[0] += dF * dF
			jtj[1] += dF * dB
			jtj[3] += dB * dB
			jtr[0] += dF * r
			jtr[1] += dB * r
		}
		if params == 2 {
			jtj[2] = jtj[1]
		}

		improved := false
		for lambda < 1e12 {
			damped := make([]float64, len(jtj))
			copy(damped, jtj)
			for k := range params {
				damped[k*params+k] *= 1 + lambda
			}

			var delta mat.VecDense
			if err := delta.SolveVec(mat.NewDense(params, params, damped), mat.NewVecDense(params, jtr)); err != nil {
				lambda *= 10
				continue
			}

			nf0, nb := f0, b
			if params == 1 {
				nb += delta.AtVec(0)
			} else {
				nf0 += delta.AtVec(0)
				nb += delta.AtVec(1)
			}
			if nf0 <= 0 || 1+nb*ns[len(ns)-1]*ns[len(ns)-1] <= 0 {
				lambda *= 10
				continue
			}

			newCost := sumSquares(ns, fs, nf0, nb)
			if newCost <= cost {
				converged := cost-newCost <= 1e-15*(1+cost)
				f0, b, cost = nf0, nb, newCost
				lambda /= 10
				improved = !converged
				break
			}
			lambda *= 10
		}
		if !improved {
			break
		}
	}
	return f0, b
}

func sumSquares(ns, fs []float64, f0, b float64) float64 {
	sum := 0.0
	for i, n := range ns {
		r := fs[i] - n*f0*math.Sqrt(1+b*n*n)
		sum += r * r
	}
	return sum
}

func fitResiduals(ns, fs []float64, f0, b float64) (rmsHz, rmsCents float64, err error) {
	if !isFinite(f0) || !isFinite(b) || !(f0 > 0) {
		return 0, 0, fmt.Errorf("%w: f0=%g B=%g", ErrFitDiverged, f0, b)
	}
	for i, n := range ns {
		model := n * f0 * math.Sqrt(1+b*n*n)
		d := fs[i] - model
		rmsHz += d * d
		c := common.Cents(fs[i], model)
		rmsCents += c * c
	}
	m := float64(len(ns))
	rmsHz, rmsCents = math.Sqrt(rmsHz/m), math.Sqrt(rmsCents/m)
	if !isFinite(rmsHz) || !isFinite(rmsCents) {
		return 0, 0, fmt.Errorf("%w: non-finite residual at f0=%g B=%g", ErrFitDiverged, f0, b)
	}
	return rmsHz, rmsCents, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ClassifyInharmonicity gives a coarse label for a B coefficient
func ClassifyInharmonicity(b float64) string {
	absB := math.Abs(b)

	if absB < 0.0001 {
		return "Very Low"
	} else if absB < 0.001 {
		return "Low"
	} else if absB < 0.005 {
		return "Moderate"
	} else if absB < 0.01 {
		return "High"
	} else {
		return "Very High"
	}
}

// Package expression maps valence/arousal coordinates to face parameter
// vectors by blending a static keyframe table.
//
// Every keyframe receives a weight from its distance to the query, weights
// are normalized to sum to one and the parameters are averaged. Fields that
// behave like switches (an eye is either wide or narrow) are then replaced by
// a gated value so they snap instead of blending into an in-between shape.
package expression

import (
	"fmt"
	"math"
)

type keyframe struct {
	label  string
	at     Coordinate
	params [NumFields]float64
}

type override struct {
	field     int
	gate      Gate
	mapping   Mapping
	inA, inB  []bool
	gain      float64
	threshold float64
	min, max  float64
}

// Engine is immutable after New and safe for concurrent use.
type Engine struct {
	frames    []keyframe
	law       Weighting
	overrides []override
}

func New(cfg Config) (*Engine, error) {
	if len(cfg.Keyframes) == 0 {
		return nil, ErrNoKeyframes
	}
	law := cfg.Weighting.withDefaults()
	if err := law.validate(); err != nil {
		return nil, err
	}

	e := &Engine{law: law}
	labels := make(map[string]int, len(cfg.Keyframes))
	for i, k := range cfg.Keyframes {
		if len(k.Params) != NumFields {
			return nil, fmt.Errorf("expression: keyframe %q has %d params, want %d", k.Label, len(k.Params), NumFields)
		}
		if _, dup := labels[k.Label]; dup {
			return nil, fmt.Errorf("expression: duplicate keyframe label %q", k.Label)
		}
		at := Coordinate{V: k.V, A: k.A}
		for _, prev := range e.frames {
			if prev.at == at {
				return nil, fmt.Errorf("expression: keyframes %q and %q share coordinate (%g, %g)", prev.label, k.Label, at.V, at.A)
			}
		}
		f := keyframe{label: k.Label, at: at}
		copy(f.params[:], k.Params)
		e.frames = append(e.frames, f)
		labels[k.Label] = i
	}
	for _, o := range cfg.Overrides {
		c, err := compileOverride(o, labels)
		if err != nil {
			return nil, err
		}
		e.overrides = append(e.overrides, c)
	}
	return e, nil
}

func (e *Engine) Keyframes() []Keyframe {
	out := make([]Keyframe, 0, len(e.frames))
	for _, f := range e.frames {
		out = append(out, Keyframe{Label: f.label, V: f.at.V, A: f.at.A, Params: append([]float64(nil), f.params[:]...)})
	}
	return out
}

func (e *Engine) Weights(c Coordinate) []Weight {
	w := e.weights(c)
	out := make([]Weight, len(w))
	for i, f := range e.frames {
		out[i] = Weight{Label: f.label, Weight: w[i]}
	}
	return out
}

func (e *Engine) Interpolate(c Coordinate) Vector {
	w := e.weights(c)
	var base [NumFields]float64
	for i, f := range e.frames {
		for j := range base {
			base[j] += w[i] * f.params[j]
		}
	}
	out := base
	for _, o := range e.overrides {
		out[o.field] = o.apply(w, base[o.field])
	}
	return FromArray(out)
}

// weights returns normalized keyframe weights in table order.
func (e *Engine) weights(c Coordinate) []float64 {
	w := make([]float64, len(e.frames))
	dmin := math.Inf(1)
	for i, f := range e.frames {
		w[i] = e.law.DistanceScale * math.Hypot(c.V-f.at.V, c.A-f.at.A)
		dmin = math.Min(dmin, w[i])
	}
	eps := e.law.Epsilon
	if e.law.Law == LawSoftmax {
		for i, d := range w {
			w[i] = 1 / (d + eps)
		}
		softmax(w, e.law.Temperature)
		return finite(w)
	}

	// Far from every keyframe d^p overflows; distances are measured in units
	// of the nearest one instead, which leaves the normalized weights unchanged.
	unit := 1.0
	if dmin > 1 {
		unit = dmin
	}
	eps /= math.Pow(unit, e.law.Power)
	sum := 0.0
	for i, d := range w {
		w[i] = 1 / (math.Pow(d/unit, e.law.Power) + eps)
		sum += w[i]
	}
	for i := range w {
		w[i] /= sum
	}
	return finite(w)
}

// finite falls back to uniform weights when w could not be normalized,
// which only happens for infinite or NaN coordinates.
func finite(w []float64) []float64 {
	for _, x := range w {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			for i := range w {
				w[i] = 1 / float64(len(w))
			}
			return w
		}
	}
	return w
}

func softmax(r []float64, temp float64) {
	hi := math.Inf(-1)
	for _, x := range r {
		hi = math.Max(hi, x)
	}
	sum := 0.0
	for i, x := range r {
		r[i] = math.Exp((x - hi) / temp)
		sum += r[i]
	}
	for i := range r {
		r[i] /= sum
	}
}

func logistic(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func (o override) apply(w []float64, base float64) float64 {
	var g float64
	switch o.gate {
	case GateCluster:
		score := 0.0
		for i, wi := range w {
			if o.inA[i] {
				score += wi
			} else if o.inB[i] {
				score -= wi
			}
		}
		g = logistic(o.gain * score)
	case GateThreshold:
		if base >= o.threshold {
			g = 1
		}
	}
	if o.mapping == MappingPass {
		return g * base
	}
	return o.min + (o.max-o.min)*g
}

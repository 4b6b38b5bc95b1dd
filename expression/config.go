package expression

import (
	"errors"
	"fmt"
	"math"
)

var ErrNoKeyframes = errors.New("expression: keyframe table is empty")

type Law string

const (
	LawInversePower Law = "inverse_power"
	LawSoftmax      Law = "softmax"
)

type Gate string

const (
	// GateCluster gates on the weight difference between two keyframe clusters.
	GateCluster Gate = "cluster"
	// GateThreshold snaps on the blended value itself.
	GateThreshold Gate = "threshold"
)

type Mapping string

const (
	MappingRange Mapping = "range"
	MappingPass  Mapping = "pass"
)

type Keyframe struct {
	Label  string    `yaml:"label" mapstructure:"label"`
	V      float64   `yaml:"v" mapstructure:"v"`
	A      float64   `yaml:"a" mapstructure:"a"`
	Params []float64 `yaml:"params" mapstructure:"params"`
}

type Weighting struct {
	Law           Law     `yaml:"law" mapstructure:"law"`
	Power         float64 `yaml:"power" mapstructure:"power"`
	Epsilon       float64 `yaml:"epsilon" mapstructure:"epsilon"`
	Temperature   float64 `yaml:"temperature" mapstructure:"temperature"`
	DistanceScale float64 `yaml:"distance_scale" mapstructure:"distance_scale"`
}

type Override struct {
	Field     string   `yaml:"field" mapstructure:"field"`
	Gate      Gate     `yaml:"gate" mapstructure:"gate"`
	Mapping   Mapping  `yaml:"mapping" mapstructure:"mapping"`
	ClusterA  []string `yaml:"cluster_a,omitempty" mapstructure:"cluster_a"`
	ClusterB  []string `yaml:"cluster_b,omitempty" mapstructure:"cluster_b"`
	Gain      float64  `yaml:"gain,omitempty" mapstructure:"gain"`
	Threshold float64  `yaml:"threshold,omitempty" mapstructure:"threshold"`
	Min       float64  `yaml:"min,omitempty" mapstructure:"min"`
	Max       float64  `yaml:"max,omitempty" mapstructure:"max"`
}

type Config struct {
	Keyframes []Keyframe `yaml:"keyframes" mapstructure:"keyframes"`
	Weighting Weighting  `yaml:"weighting" mapstructure:"weighting"`
	Overrides []Override `yaml:"overrides" mapstructure:"overrides"`
}

func (w Weighting) withDefaults() Weighting {
	if w.Law == "" {
		w.Law = LawInversePower
	}
	if w.Power == 0 {
		w.Power = 2
	}
	if w.Epsilon == 0 {
		w.Epsilon = 1e-9
	}
	if w.Temperature == 0 {
		w.Temperature = 1
	}
	if w.DistanceScale == 0 {
		w.DistanceScale = 1
	}
	return w
}

func (w Weighting) validate() error {
	switch w.Law {
	case LawInversePower:
		if w.Power <= 0 {
			return fmt.Errorf("expression: power must be positive, got %g", w.Power)
		}
	case LawSoftmax:
		if w.Temperature <= 0 {
			return fmt.Errorf("expression: temperature must be positive, got %g", w.Temperature)
		}
	default:
		return fmt.Errorf("expression: unknown weighting law %q", w.Law)
	}
	if w.Epsilon <= 0 {
		return fmt.Errorf("expression: epsilon must be positive, got %g", w.Epsilon)
	}
	if w.DistanceScale <= 0 || math.IsInf(w.DistanceScale, 0) {
		return fmt.Errorf("expression: distance_scale must be positive, got %g", w.DistanceScale)
	}
	return nil
}

func compileOverride(o Override, labels map[string]int) (override, error) {
	idx, ok := fieldIndex(o.Field)
	if !ok {
		return override{}, fmt.Errorf("expression: override on unknown field %q", o.Field)
	}
	c := override{
		field:     idx,
		gate:      o.Gate,
		mapping:   o.Mapping,
		gain:      o.Gain,
		threshold: o.Threshold,
		min:       o.Min,
		max:       o.Max,
	}
	switch o.Mapping {
	case MappingRange:
		if o.Min > o.Max {
			return override{}, fmt.Errorf("expression: override %s: min %g > max %g", o.Field, o.Min, o.Max)
		}
	case MappingPass:
	default:
		return override{}, fmt.Errorf("expression: override %s: unknown mapping %q", o.Field, o.Mapping)
	}
	switch o.Gate {
	case GateCluster:
		if len(o.ClusterA) == 0 && len(o.ClusterB) == 0 {
			return override{}, fmt.Errorf("expression: override %s: both clusters empty", o.Field)
		}
		c.inA = make([]bool, len(labels))
		c.inB = make([]bool, len(labels))
		for _, l := range o.ClusterA {
			i, ok := labels[l]
			if !ok {
				return override{}, fmt.Errorf("expression: override %s: unknown keyframe %q", o.Field, l)
			}
			c.inA[i] = true
		}
		for _, l := range o.ClusterB {
			i, ok := labels[l]
			if !ok {
				return override{}, fmt.Errorf("expression: override %s: unknown keyframe %q", o.Field, l)
			}
			if c.inA[i] {
				return override{}, fmt.Errorf("expression: override %s: keyframe %q in both clusters", o.Field, l)
			}
			c.inB[i] = true
		}
	case GateThreshold:
	default:
		return override{}, fmt.Errorf("expression: override %s: unknown gate %q", o.Field, o.Gate)
	}
	return c, nil
}

package expression

import (
	"fmt"
	"sort"
)

// Six-emotion table on the canonical [-1, 1] scale.
func defaultKeyframes() []Keyframe {
	return []Keyframe{
		{Label: "happy", V: 0.89, A: 0.17, Params: []float64{0.25, 0.65, -10, -20, 0, 0.2, 40, 1.45, 2.5}},
		{Label: "angry", V: -0.4, A: 0.79, Params: []float64{0.9, 0.8, 5, 20, 0.15, 0.2, -15, 0.3, 0.9}},
		{Label: "sad", V: -0.9, A: -0.4, Params: []float64{0.8, 0.6, -5, -15, 0.18, 0.15, -18, 0.1, 0.8}},
		{Label: "calm", V: 0.78, A: -0.8, Params: []float64{0.15, 0.7, -13, -26, 0, 0, 12, 0.3, 1.2}},
		{Label: "astonished", V: 1.0, A: 0.0, Params: []float64{1, 0.4, 10, 25, 0, 0, 15, 3, 0.65}},
		{Label: "sleepy", V: 0.01, A: -1.0, Params: []float64{0.15, 0.75, -11, 0, 0, 0, -15, 0.7, 1.55}},
	}
}

var (
	wideEyed   = []string{"angry", "sad", "astonished"}
	narrowEyed = []string{"happy", "calm", "sleepy"}
	lidded     = []string{"angry", "sad"}
	openLid    = []string{"happy", "calm", "astonished", "sleepy"}
)

func gatedOverrides() []Override {
	return []Override{
		{Field: "eyeOpenness", Gate: GateCluster, Mapping: MappingRange, ClusterA: wideEyed, ClusterB: narrowEyed, Gain: 18, Min: 0.2, Max: 1.0},
		{Field: "upperEyelidCoverage", Gate: GateCluster, Mapping: MappingPass, ClusterA: lidded, ClusterB: openLid, Gain: 18},
	}
}

var presets = map[string]func() Config{
	"default": func() Config {
		return Config{
			Keyframes: defaultKeyframes(),
			Weighting: Weighting{Law: LawInversePower, Power: 2, Epsilon: 1e-9},
			Overrides: gatedOverrides(),
		}
	},
	"softmax": func() Config {
		return Config{
			Keyframes: defaultKeyframes(),
			Weighting: Weighting{Law: LawSoftmax, Temperature: 0.5, Epsilon: 1e-9},
			Overrides: gatedOverrides(),
		}
	},
	// Hard snaps on the blended value, distance scaled by 100.
	"legacy": func() Config {
		return Config{
			Keyframes: defaultKeyframes(),
			Weighting: Weighting{Law: LawInversePower, Power: 2, Epsilon: 1e-9, DistanceScale: 100},
			Overrides: []Override{
				{Field: "eyeOpenness", Gate: GateThreshold, Mapping: MappingRange, Threshold: 0.4, Min: 0.2, Max: 1.0},
				{Field: "upperEyelidCoverage", Gate: GateThreshold, Mapping: MappingPass, Threshold: 0.1},
			},
		}
	},
}

// Preset returns a fresh copy of a named configuration.
func Preset(name string) (Config, error) {
	if name == "" {
		name = "default"
	}
	p, ok := presets[name]
	if !ok {
		return Config{}, fmt.Errorf("expression: unknown preset %q (have %v)", name, PresetNames())
	}
	return p(), nil
}

func PresetNames() []string {
	out := make([]string, 0, len(presets))
	for n := range presets {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

package expression

// NumFields is the length of an expression parameter vector.
const NumFields = 9

// FieldNames lists the vector fields in their canonical order.
var FieldNames = [NumFields]string{
	"eyeOpenness",
	"pupilSize",
	"pupilAngle",
	"upperEyelidAngle",
	"upperEyelidCoverage",
	"lowerEyelidCoverage",
	"mouthCurve",
	"mouthHeight",
	"mouthWidth",
}

// Coordinate is a valence/arousal point on the canonical [-1, 1] scale.
type Coordinate struct {
	V float64 `json:"v" yaml:"v"`
	A float64 `json:"a" yaml:"a"`
}

type Vector struct {
	EyeOpenness         float64 `json:"eyeOpenness" yaml:"eyeOpenness"`
	PupilSize           float64 `json:"pupilSize" yaml:"pupilSize"`
	PupilAngle          float64 `json:"pupilAngle" yaml:"pupilAngle"`
	UpperEyelidAngle    float64 `json:"upperEyelidAngle" yaml:"upperEyelidAngle"`
	UpperEyelidCoverage float64 `json:"upperEyelidCoverage" yaml:"upperEyelidCoverage"`
	LowerEyelidCoverage float64 `json:"lowerEyelidCoverage" yaml:"lowerEyelidCoverage"`
	MouthCurve          float64 `json:"mouthCurve" yaml:"mouthCurve"`
	MouthHeight         float64 `json:"mouthHeight" yaml:"mouthHeight"`
	MouthWidth          float64 `json:"mouthWidth" yaml:"mouthWidth"`
}

func (v Vector) Array() [NumFields]float64 {
	return [NumFields]float64{
		v.EyeOpenness,
		v.PupilSize,
		v.PupilAngle,
		v.UpperEyelidAngle,
		v.UpperEyelidCoverage,
		v.LowerEyelidCoverage,
		v.MouthCurve,
		v.MouthHeight,
		v.MouthWidth,
	}
}

func FromArray(a [NumFields]float64) Vector {
	return Vector{
		EyeOpenness:         a[0],
		PupilSize:           a[1],
		PupilAngle:          a[2],
		UpperEyelidAngle:    a[3],
		UpperEyelidCoverage: a[4],
		LowerEyelidCoverage: a[5],
		MouthCurve:          a[6],
		MouthHeight:         a[7],
		MouthWidth:          a[8],
	}
}

func fieldIndex(name string) (int, bool) {
	for i, n := range FieldNames {
		if n == name {
			return i, true
		}
	}
	return -1, false
}

// Weight is the normalized influence of one keyframe on a query.
type Weight struct {
	Label  string  `json:"label"`
	Weight float64 `json:"weight"`
}

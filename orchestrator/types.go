package orchestrator

import (
	"strconv"
	"time"

	"github.com/maastricht-university/emoface/expression"
	"github.com/maastricht-university/emoface/extractor"
)

type Timing struct {
	Total time.Duration
	LLM   time.Duration
	Param time.Duration // spent interpolating
}

type Result struct {
	TurnID     string
	Phase      extractor.Phase
	Found      bool
	Coordinate expression.Coordinate
	Label      string
	Expression expression.Vector
	Text       string
	Unclosed   bool // reply ended inside an auxiliary block
	Timing     Timing
}

// Record is one row saved by the browser for a subject.
type Record struct {
	SubjectID         string  `json:"subject_id"`
	Timestamp         string  `json:"timestamp"`
	EmotionLabel      string  `json:"emotion_label"`
	AnimationDuration float64 `json:"animationDuration"`
	expression.Vector
}

var recordHeaders = append([]string{"subject_id", "timestamp", "emotion_label", "animationDuration"}, expression.FieldNames[:]...)

func (r Record) row() []string {
	out := []string{r.SubjectID, r.Timestamp, r.EmotionLabel, ff(r.AnimationDuration)}
	for _, v := range r.Vector.Array() {
		out = append(out, ff(v))
	}
	return out
}

var timingHeaders = []string{"timestamp", "total_time", "llm_time", "param_time"}

func timingRow(at time.Time, t Timing) []string {
	sec := func(d time.Duration) string { return strconv.FormatFloat(d.Seconds(), 'f', 4, 64) }
	return []string{at.Format("2006-01-02 15:04:05"), sec(t.Total), sec(t.LLM), sec(t.Param)}
}

func ff(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

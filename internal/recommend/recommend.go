// Package recommend turns success-rate signals into a next-step recommendation.
// It is read-only and persists nothing.
package recommend

import (
	"math"
	"sort"

	"github.com/pot-code/course-progress/internal/progress"
)

// Action suggested next step
type Action string

const (
	Advance  Action = "advance"
	Standard Action = "standard"
	Review   Action = "review"
)

// Reason machine-usable reason code
type Reason string

const (
	ReasonProficient       Reason = "proficient"
	ReasonOnTrack          Reason = "on_track"
	ReasonStruggling       Reason = "struggling"
	ReasonInsufficientData Reason = "insufficient_data"
	ReasonCourseCompleted  Reason = "course_completed"
)

const (
	ProficientThreshold = 0.8
	StrugglingThreshold = 0.4
	// MinSamples below this many attempts no classification is made
	MinSamples = 3
	// SufficientSamples attempts needed for full confidence
	SufficientSamples = 10
)

// Signal aggregate success rate for one concept or lesson
type Signal struct {
	ConceptID   string  `json:"conceptId" validate:"required"`
	SuccessRate float64 `json:"successRate" validate:"gte=0,lte=1"`
	Samples     int     `json:"samples" validate:"gte=0"`
}

// Recommendation advisor output
type Recommendation struct {
	Action     Action   `json:"action"`
	Confidence float64  `json:"confidence"`
	Reason     Reason   `json:"reason"`
	Rate       float64  `json:"rate"`
	Samples    int      `json:"samples"`
	Focus      []string `json:"focus,omitempty"` // struggling concepts, weakest first
}

type tally struct {
	id      string
	weight  float64
	samples int
}

func (t tally) rate() float64 {
	return t.weight / float64(t.samples)
}

// Recommend classify the sample-weighted mean of signals against the fixed thresholds
func Recommend(rec *progress.Record, signals []Signal) Recommendation {
	if rec != nil && rec.IsCompleted {
		return Recommendation{Action: Advance, Confidence: 1, Reason: ReasonCourseCompleted}
	}

	byConcept := make(map[string]*tally)
	var order []string
	total := tally{}
	for _, s := range signals {
		if s.Samples <= 0 || math.IsNaN(s.SuccessRate) {
			continue
		}
		r := math.Max(0, math.Min(1, s.SuccessRate))
		t, ok := byConcept[s.ConceptID]
		if !ok {
			t = &tally{id: s.ConceptID}
			byConcept[s.ConceptID] = t
			order = append(order, s.ConceptID)
		}
		t.weight += r * float64(s.Samples)
		t.samples += s.Samples
		total.weight += r * float64(s.Samples)
		total.samples += s.Samples
	}

	if total.samples < MinSamples {
		out := Recommendation{Action: Standard, Reason: ReasonInsufficientData, Samples: total.samples}
		if total.samples > 0 {
			out.Rate = total.rate()
		}
		return out
	}

	rate := total.rate()
	sufficiency := math.Min(1, float64(total.samples)/SufficientSamples)
	out := Recommendation{Rate: rate, Samples: total.samples}

	var distance float64
	switch {
	case rate >= ProficientThreshold:
		out.Action, out.Reason = Advance, ReasonProficient
		distance = (rate - ProficientThreshold) / (1 - ProficientThreshold)
	case rate <= StrugglingThreshold:
		out.Action, out.Reason = Review, ReasonStruggling
		distance = (StrugglingThreshold - rate) / StrugglingThreshold
	default:
		out.Action, out.Reason = Standard, ReasonOnTrack
		half := (ProficientThreshold - StrugglingThreshold) / 2
		distance = 1 - math.Abs(rate-(StrugglingThreshold+half))/half
	}
	out.Confidence = round(sufficiency * (0.5 + 0.5*distance))

	var weak []tally
	for _, id := range order {
		if t := byConcept[id]; t.rate() <= StrugglingThreshold {
			weak = append(weak, *t)
		}
	}
	sort.SliceStable(weak, func(i, j int) bool { return weak[i].rate() < weak[j].rate() })
	for _, t := range weak {
		out.Focus = append(out.Focus, t.id)
	}
	return out
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}

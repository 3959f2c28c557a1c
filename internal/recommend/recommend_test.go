package recommend

import (
	"testing"
	"time"

	"github.com/pot-code/course-progress/internal/progress"
	"github.com/stretchr/testify/assert"
)

func TestRecommend_Thresholds(t *testing.T) {
	tests := []struct {
		name       string
		rate       float64
		samples    int
		action     Action
		reason     Reason
		confidence float64
	}{
		{"perfect", 1, 10, Advance, ReasonProficient, 1},
		{"on the proficient line", 0.8, 10, Advance, ReasonProficient, 0.5},
		{"middle of the band", 0.6, 10, Standard, ReasonOnTrack, 1},
		{"between the lines", 0.5, 10, Standard, ReasonOnTrack, 0.75},
		{"on the struggling line", 0.4, 10, Review, ReasonStruggling, 0.5},
		{"nothing right", 0, 20, Review, ReasonStruggling, 1},
		{"few samples", 1, 5, Advance, ReasonProficient, 0.5},
		{"too few samples", 1, 2, Standard, ReasonInsufficientData, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Recommend(nil, []Signal{{ConceptID: "joins", SuccessRate: tt.rate, Samples: tt.samples}})
			assert.Equal(t, tt.action, got.Action)
			assert.Equal(t, tt.reason, got.Reason)
			assert.InDelta(t, tt.confidence, got.Confidence, 0.001)
			assert.GreaterOrEqual(t, got.Confidence, 0.0)
			assert.LessOrEqual(t, got.Confidence, 1.0)
		})
	}
}

func TestRecommend_WeightedMean(t *testing.T) {
	got := Recommend(progress.NewRecord(time.Now()), []Signal{
		{ConceptID: "select", SuccessRate: 0.9, Samples: 9},
		{ConceptID: "joins", SuccessRate: 0.1, Samples: 1},
		{ConceptID: "ignored", SuccessRate: 0, Samples: 0},
	})
	assert.InDelta(t, 0.82, got.Rate, 0.0001)
	assert.Equal(t, 10, got.Samples)
	assert.Equal(t, Advance, got.Action)
	assert.Equal(t, []string{"joins"}, got.Focus)
}

func TestRecommend_FocusWeakestFirst(t *testing.T) {
	got := Recommend(nil, []Signal{
		{ConceptID: "where", SuccessRate: 0.3, Samples: 4},
		{ConceptID: "joins", SuccessRate: 0.1, Samples: 4},
		{ConceptID: "where", SuccessRate: 0.3, Samples: 4},
		{ConceptID: "select", SuccessRate: 0.2, Samples: 4},
	})
	assert.Equal(t, Review, got.Action)
	assert.Equal(t, []string{"joins", "select", "where"}, got.Focus)
}

func TestRecommend_CompletedCourse(t *testing.T) {
	rec := progress.NewRecord(time.Now())
	rec.IsCompleted = true
	got := Recommend(rec, nil)
	assert.Equal(t, Recommendation{Action: Advance, Confidence: 1, Reason: ReasonCourseCompleted}, got)
}

func TestRecommend_NoSignals(t *testing.T) {
	got := Recommend(nil, nil)
	assert.Equal(t, Standard, got.Action)
	assert.Equal(t, ReasonInsufficientData, got.Reason)
	assert.Zero(t, got.Confidence)
}

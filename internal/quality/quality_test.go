package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/valpere/tabletran/internal/unit"
)

func TestBLEU_Identical(t *testing.T) {
	tokens := []string{"Country", "Year", "Spain", "2020", "France", "2021"}
	assert.InDelta(t, 1.0, BLEU(tokens, tokens), 1e-9)
}

func TestBLEU_Empty(t *testing.T) {
	assert.Zero(t, BLEU(nil, []string{"a"}))
	assert.Zero(t, BLEU([]string{"a"}, nil))
}

func TestBLEU_NoUnigramOverlap(t *testing.T) {
	assert.Zero(t, BLEU([]string{"a", "b", "c"}, []string{"x", "y", "z"}))
}

func TestBLEU_SmoothedHigherOrders(t *testing.T) {
	// p1=3/4, p2=2/3, p3=1/2, p4 smoothed to 0.1/1.
	got := BLEU([]string{"a", "b", "c", "d"}, []string{"a", "b", "c", "e"})
	assert.InDelta(t, 0.3976, got, 1e-3)
}

func TestBLEU_BrevityPenalty(t *testing.T) {
	// p1=p2=1, p3 and p4 smoothed, brevity penalty exp(1-4/2).
	got := BLEU([]string{"a", "b", "c", "d"}, []string{"a", "b"})
	assert.InDelta(t, 0.1163, got, 1e-3)
}

func TestBLEU_ClipsRepeatedTokens(t *testing.T) {
	got := BLEU([]string{"the", "cat"}, []string{"the", "the", "the"})
	assert.Less(t, got, 0.5)
}

func TestDecide_Monotonic(t *testing.T) {
	scores := []float64{0, 0.1, 0.39, 0.4, 0.92, 1}
	thresholds := []float64{0, 0.2, 0.4, 0.6, 1}
	for _, s := range scores {
		for _, t1 := range thresholds {
			if Decide(s, t1) != Keep {
				continue
			}
			for _, t2 := range thresholds {
				if t2 < t1 {
					assert.Equal(t, Keep, Decide(s, t2), "score %v t1 %v t2 %v", s, t1, t2)
				}
			}
		}
	}
	assert.Equal(t, Keep, Decide(0.4, 0.4))
	assert.Equal(t, Drop, Decide(0.39, 0.4))
}

func TestGate_RoundTrip(t *testing.T) {
	original := unit.NewTable("T1", []string{"Country", "Capital"}, [][]string{
		{"Spain", "Madrid"}, {"France", "Paris"}, {"Italy", "Rome"},
	})

	v := Gate{Threshold: 0.4}.Evaluate("T1", "es", original, original.Clone())
	assert.Equal(t, Keep, v.Decision)
	assert.InDelta(t, 1.0, v.Score, 1e-9)
	assert.True(t, v.Kept())

	garbled := unit.NewTable("T1", []string{"x1", "x2"}, [][]string{{"9", "8"}, {"7", "6"}, {"5", "4"}})
	v = Gate{Threshold: 0.4}.Evaluate("T1", "es", original, garbled)
	assert.Equal(t, Drop, v.Decision)
	assert.Zero(t, v.Score)
	assert.Equal(t, "es", v.Lang)
	assert.Equal(t, 0.4, v.Threshold)
}

func TestGate_ZeroThresholdKeepsEverything(t *testing.T) {
	original := unit.NewTable("T1", []string{"a"}, nil)
	back := unit.NewTable("T1", []string{"b"}, nil)
	assert.Equal(t, Keep, Gate{}.Evaluate("T1", "fr", original, back).Decision)
}

func TestScore_NilUnits(t *testing.T) {
	assert.Zero(t, Score(nil, unit.NewTable("x", []string{"a"}, nil)))
}

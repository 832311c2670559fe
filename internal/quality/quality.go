// Package quality implements the round-trip gate: a back-translated unit is
// compared with its original and the pair is kept only if enough survived.
package quality

import (
	"math"
	"strings"

	"github.com/valpere/tabletran/internal/unit"
)

// Decision is the gate outcome, stored upper-case in metadata files.
type Decision string

const (
	Keep Decision = "KEEP"
	Drop Decision = "DROP"
)

const (
	maxOrder = 4
	// epsilon is added to zero n-gram match counts (smoothing method 1).
	epsilon = 0.1
)

// Verdict is the recorded gate result for one (unit, language) pair.
type Verdict struct {
	UnitID    string   `json:"table_id"`
	Lang      string   `json:"lang_code"`
	Score     float64  `json:"bleu_score"`
	Threshold float64  `json:"threshold"`
	Decision  Decision `json:"decision"`
}

// Kept reports whether the verdict keeps the translation.
func (v Verdict) Kept() bool { return v.Decision == Keep }

// Gate holds the run's acceptance threshold. A zero threshold keeps every
// pair that reaches the gate.
type Gate struct {
	Threshold float64
}

// Evaluate scores back against original and decides.
func (g Gate) Evaluate(unitID, lang string, original, back *unit.Unit) Verdict {
	score := Score(original, back)
	return Verdict{
		UnitID:    unitID,
		Lang:      lang,
		Score:     score,
		Threshold: g.Threshold,
		Decision:  Decide(score, g.Threshold),
	}
}

// Decide keeps scores at or above threshold.
func Decide(score, threshold float64) Decision {
	if score >= threshold {
		return Keep
	}
	return Drop
}

// Score flattens both units into cell tokens and returns their sentence
// BLEU with the original as the single reference. Empty sides score 0.
func Score(original, back *unit.Unit) float64 {
	if original == nil || back == nil {
		return 0
	}
	return BLEU(original.Tokens(), back.Tokens())
}

// BLEU is sentence-level BLEU-4 with uniform weights, a brevity penalty and
// epsilon smoothing of zero match counts. It returns 0 when either sequence
// is empty or no unigram matches.
func BLEU(reference, candidate []string) float64 {
	if len(reference) == 0 || len(candidate) == 0 {
		return 0
	}

	logSum := 0.0
	for n := 1; n <= maxOrder; n++ {
		matches, total := clippedMatches(reference, candidate, n)
		if n == 1 && matches == 0 {
			return 0
		}
		if total < 1 {
			total = 1
		}
		p := float64(matches) / float64(total)
		if matches == 0 {
			p = epsilon / float64(total)
		}
		logSum += math.Log(p) / maxOrder
	}

	score := brevityPenalty(len(reference), len(candidate)) * math.Exp(logSum)
	return math.Min(1, math.Max(0, score))
}

// clippedMatches counts candidate n-grams found in the reference, each
// reference n-gram matching at most as often as it occurs there.
func clippedMatches(reference, candidate []string, n int) (matches, total int) {
	refCounts := ngrams(reference, n)
	candCounts := ngrams(candidate, n)
	for g, c := range candCounts {
		total += c
		matches += min(c, refCounts[g])
	}
	return matches, total
}

func ngrams(tokens []string, n int) map[string]int {
	counts := make(map[string]int)
	for i := 0; i+n <= len(tokens); i++ {
		counts[strings.Join(tokens[i:i+n], "\x00")]++
	}
	return counts
}

func brevityPenalty(refLen, candLen int) float64 {
	if candLen > refLen {
		return 1
	}
	return math.Exp(1 - float64(refLen)/float64(candLen))
}

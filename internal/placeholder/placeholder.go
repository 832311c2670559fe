// Package placeholder shields the parts of a table cell that must not be
// translated (markup tags, LaTeX math, URLs) behind numbered markers
// ([PH0], [PH1], ...) and puts them back afterwards.
package placeholder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// LaTeX math: $...$ and \(...\)
	reMath = regexp.MustCompile(`\$[^$\n]+\$|\\\(.+?\\\)`)

	// HTML/XML tags such as <br> or <sup>
	reTag = regexp.MustCompile(`<[^<>\s][^<>]*>`)

	reURL = regexp.MustCompile(`https?://[^\s<>"]+`)

	reMarker = regexp.MustCompile(`\[PH(\d+)\]`)
)

// Mask holds the originals replaced in one piece of text.
type Mask struct {
	originals []string
}

// Len is the number of protected spans.
func (m *Mask) Len() int { return len(m.originals) }

// Protect replaces math, tags and URLs in text with markers, in that order.
// Text without such spans comes back unchanged with an empty mask.
func Protect(text string) (string, *Mask) {
	m := &Mask{}
	replace := func(match string) string {
		id := fmt.Sprintf("[PH%d]", len(m.originals))
		m.originals = append(m.originals, match)
		return id
	}

	text = reMath.ReplaceAllStringFunc(text, replace)
	text = reTag.ReplaceAllStringFunc(text, replace)
	text = reURL.ReplaceAllStringFunc(text, replace)
	return text, m
}

// Restore puts the originals back. It fails when the translation dropped a
// marker, since the cell would silently lose content.
func (m *Mask) Restore(text string) (string, error) {
	if m.Len() == 0 {
		return text, nil
	}
	if missing := m.Missing(text); len(missing) > 0 {
		return "", fmt.Errorf("markers %v lost in translation", missing)
	}
	return reMarker.ReplaceAllStringFunc(text, func(match string) string {
		idx, err := strconv.Atoi(reMarker.FindStringSubmatch(match)[1])
		if err != nil || idx >= len(m.originals) {
			return match
		}
		return m.originals[idx]
	}), nil
}

// Missing returns the indices of markers absent from text.
func (m *Mask) Missing(text string) []int {
	var missing []int
	for i := range m.originals {
		if !strings.Contains(text, fmt.Sprintf("[PH%d]", i)) {
			missing = append(missing, i)
		}
	}
	return missing
}

// Package unit defines the TranslationUnit model: a table or a question/answer
// pair whose shape must survive every translation stage unchanged.
package unit

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Kind distinguishes tables from question/answer pairs.
type Kind string

const (
	KindTable Kind = "table"
	KindQA    Kind = "qa"
)

var ErrEmpty = errors.New("unit has no translatable content")

// Unit is one table or one question/answer pair.
//
// Tables use Columns and Rows. QA pairs use Question, Answer and QuestionType
// and carry their context table in Context; the context is never serialised
// with the pair itself.
type Unit struct {
	ID           string     `json:"id,omitempty"`
	Kind         Kind       `json:"kind"`
	Columns      []string   `json:"columns,omitempty"`
	Rows         [][]string `json:"data,omitempty"`
	Question     string     `json:"question,omitempty"`
	Answer       [][]string `json:"answer,omitempty"`
	QuestionType string     `json:"question_type,omitempty"`
	Context      *Unit      `json:"-"`
}

// NewTable builds a table unit.
func NewTable(id string, columns []string, rows [][]string) *Unit {
	return &Unit{ID: id, Kind: KindTable, Columns: columns, Rows: rows}
}

// NewQA builds a question/answer unit bound to its context table.
func NewQA(id, question string, answer [][]string, questionType string, context *Unit) *Unit {
	return &Unit{
		ID:           id,
		Kind:         KindQA,
		Question:     question,
		Answer:       answer,
		QuestionType: questionType,
		Context:      context,
	}
}

// Shape is the structural fingerprint of a unit: header width and the cell
// count of every row, in order.
type Shape struct {
	Columns  int
	Question bool
	Rows     []int
}

func (s Shape) String() string {
	return fmt.Sprintf("%d cols x %d rows %v", s.Columns, len(s.Rows), s.Rows)
}

// Equal reports whether two shapes match row by row.
func (s Shape) Equal(o Shape) bool {
	if s.Columns != o.Columns || s.Question != o.Question || len(s.Rows) != len(o.Rows) {
		return false
	}
	for i := range s.Rows {
		if s.Rows[i] != o.Rows[i] {
			return false
		}
	}
	return true
}

func (u *Unit) body() [][]string {
	if u.Kind == KindQA {
		return u.Answer
	}
	return u.Rows
}

// Shape returns the unit's structural fingerprint.
func (u *Unit) Shape() Shape {
	rows := u.body()
	s := Shape{Columns: len(u.Columns), Question: u.Kind == KindQA, Rows: make([]int, len(rows))}
	for i, r := range rows {
		s.Rows[i] = len(r)
	}
	return s
}

// SameShape reports whether a and b have identical structure.
func SameShape(a, b *Unit) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Kind == b.Kind && a.Shape().Equal(b.Shape())
}

// Validate rejects units that carry nothing to translate.
func (u *Unit) Validate() error {
	switch u.Kind {
	case KindTable:
		if len(u.Columns) == 0 && len(u.Rows) == 0 {
			return fmt.Errorf("table %q: %w", u.ID, ErrEmpty)
		}
	case KindQA:
		if strings.TrimSpace(u.Question) == "" {
			return fmt.Errorf("qa %q: %w", u.ID, ErrEmpty)
		}
	default:
		return fmt.Errorf("unit %q: unknown kind %q", u.ID, u.Kind)
	}
	return nil
}

// Clone returns a deep copy. The context table pointer is shared because it
// is read-only for the whole run.
func (u *Unit) Clone() *Unit {
	c := *u
	c.Columns = append([]string(nil), u.Columns...)
	c.Rows = cloneRows(u.Rows)
	c.Answer = cloneRows(u.Answer)
	return &c
}

func cloneRows(rows [][]string) [][]string {
	if rows == nil {
		return nil
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// Cells returns pointers to every translatable string in flattening order:
// columns (or the question) first, then the body row-major.
func (u *Unit) Cells() []*string {
	var cells []*string
	if u.Kind == KindQA {
		cells = append(cells, &u.Question)
	}
	for i := range u.Columns {
		cells = append(cells, &u.Columns[i])
	}
	rows := u.body()
	for i := range rows {
		for j := range rows[i] {
			cells = append(cells, &rows[i][j])
		}
	}
	return cells
}

// Tokens flattens the unit into the ordered sequence compared by the
// quality gate. Each cell is one token, NFC-normalised and trimmed.
func (u *Unit) Tokens() []string {
	cells := u.Cells()
	tokens := make([]string, 0, len(cells))
	for _, c := range cells {
		tokens = append(tokens, norm.NFC.String(strings.TrimSpace(*c)))
	}
	return tokens
}

// Text joins all non-numeric cells, used for language identification.
func (u *Unit) Text() string {
	var sb strings.Builder
	for _, c := range u.Cells() {
		if IsNumeric(*c) {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(strings.TrimSpace(*c))
	}
	return sb.String()
}

var (
	reNumber = regexp.MustCompile(`^[-+−]?[$€£¥₹]?\s*[-+−]?\d[\d,.\s]*\s*(%|[kKmMbB]|bn|mn)?$`)
	reDate   = regexp.MustCompile(`^\d{1,4}[-/.]\d{1,2}([-/.]\d{1,4})?$`)
)

// IsNumeric reports whether a cell carries no translatable text: blanks,
// numbers, percentages, amounts and dates.
func IsNumeric(cell string) bool {
	s := strings.TrimSpace(cell)
	if s == "" {
		return true
	}
	return reNumber.MatchString(s) || reDate.MatchString(s)
}

// PinNumeric copies numeric cells of src into the same positions of out so a
// stage can never alter figures. Units of different shape are left untouched
// and false is returned.
func PinNumeric(src, out *Unit) bool {
	if !SameShape(src, out) {
		return false
	}
	from, to := src.Cells(), out.Cells()
	for i := range from {
		if IsNumeric(*from[i]) {
			*to[i] = *from[i]
		}
	}
	return true
}

// Payload is the JSON object exchanged with providers and written to disk,
// without the unit id.
func (u *Unit) Payload() ([]byte, error) {
	if u.Kind == KindQA {
		return json.Marshal(struct {
			Question     string     `json:"question"`
			Answer       [][]string `json:"answer"`
			QuestionType string     `json:"question_type,omitempty"`
		}{u.Question, u.Answer, u.QuestionType})
	}
	return json.Marshal(struct {
		Columns []string   `json:"columns"`
		Data    [][]string `json:"data"`
	}{u.Columns, u.Rows})
}

package unit

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// ParseTable reads a {"columns": [...], "data": [[...]]} object. Scalar cells
// of any JSON type are stringified.
func ParseTable(id string, data []byte) (*Unit, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("table %q: invalid JSON", id)
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil, fmt.Errorf("table %q: expected a JSON object", id)
	}
	cols := doc.Get("columns")
	rows := doc.Get("data")
	if !cols.Exists() && !rows.Exists() {
		return nil, fmt.Errorf("table %q: missing columns and data", id)
	}
	return NewTable(id, strings1(cols), strings2(rows)), nil
}

// ParseQA reads a {"question": ..., "answer": ...} object.
func ParseQA(id string, data []byte) (*Unit, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("qa %q: invalid JSON", id)
	}
	return qaFrom(id, gjson.ParseBytes(data))
}

func qaFrom(id string, doc gjson.Result) (*Unit, error) {
	if !doc.IsObject() {
		return nil, fmt.Errorf("qa %q: expected a JSON object", id)
	}
	q := doc.Get("question")
	if !q.Exists() {
		return nil, fmt.Errorf("qa %q: missing question", id)
	}
	return NewQA(id, q.String(), strings2(doc.Get("answer")), doc.Get("question_type").String(), nil), nil
}

// ParseQAList reads a JSON array of question/answer objects; ids are produced
// by idFn from the element index.
func ParseQAList(data []byte, idFn func(int) string) ([]*Unit, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON")
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsArray() {
		return nil, fmt.Errorf("expected a JSON array of QA pairs")
	}
	var out []*Unit
	for i, item := range doc.Array() {
		u, err := qaFrom(idFn(i), item)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// Parse decodes a provider payload into a unit of the same kind and id as like.
func Parse(like *Unit, data []byte) (*Unit, error) {
	var (
		out *Unit
		err error
	)
	if like.Kind == KindQA {
		out, err = ParseQA(like.ID, data)
		if err == nil {
			out.Context = like.Context
			if out.QuestionType == "" {
				out.QuestionType = like.QuestionType
			}
		}
	} else {
		out, err = ParseTable(like.ID, data)
	}
	return out, err
}

func strings1(r gjson.Result) []string {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	if !r.IsArray() {
		return []string{r.String()}
	}
	arr := r.Array()
	out := make([]string, len(arr))
	for i, v := range arr {
		out[i] = v.String()
	}
	return out
}

// strings2 accepts a list of lists, a flat list (one row) or a scalar.
func strings2(r gjson.Result) [][]string {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	if !r.IsArray() {
		return [][]string{{r.String()}}
	}
	arr := r.Array()
	if len(arr) > 0 && !arr[0].IsArray() {
		return [][]string{strings1(r)}
	}
	out := make([][]string, len(arr))
	for i, row := range arr {
		out[i] = strings1(row)
	}
	return out
}

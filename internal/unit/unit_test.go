package unit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable() *Unit {
	return NewTable("T1", []string{"Country", "GDP"}, [][]string{
		{"France", "2.9"},
		{"Spain", "1.4"},
		{"Italy", "2.1"},
	})
}

func TestShape_TableAndQA(t *testing.T) {
	tbl := sampleTable()
	s := tbl.Shape()
	assert.Equal(t, 2, s.Columns)
	assert.Equal(t, []int{2, 2, 2}, s.Rows)
	assert.False(t, s.Question)

	qa := NewQA("Q1", "Which country?", [][]string{{"France"}}, "value", tbl)
	assert.True(t, qa.Shape().Question)
	assert.Equal(t, []int{1}, qa.Shape().Rows)
}

func TestSameShape(t *testing.T) {
	a := sampleTable()
	b := a.Clone()
	b.Rows[0][0] = "Francia"
	assert.True(t, SameShape(a, b))

	b.Rows = b.Rows[:2]
	assert.False(t, SameShape(a, b))

	c := a.Clone()
	c.Rows[1] = append(c.Rows[1], "extra")
	assert.False(t, SameShape(a, c))

	assert.False(t, SameShape(a, nil))
}

func TestClone_IsDeep(t *testing.T) {
	a := sampleTable()
	b := a.Clone()
	b.Columns[0] = "País"
	b.Rows[0][0] = "Francia"
	assert.Equal(t, "Country", a.Columns[0])
	assert.Equal(t, "France", a.Rows[0][0])
}

func TestTokens_Order(t *testing.T) {
	u := NewTable("T", []string{" A ", "B"}, [][]string{{"1", "2"}, {"3", "4"}})
	assert.Equal(t, []string{"A", "B", "1", "2", "3", "4"}, u.Tokens())

	qa := NewQA("Q", "How many?", [][]string{{"4"}}, "", nil)
	assert.Equal(t, []string{"How many?", "4"}, qa.Tokens())
}

func TestIsNumeric(t *testing.T) {
	for _, s := range []string{"", "  ", "42", "-3.5", "23.6%", "$1,200", "€ 15", "2021-04-01", "12/31/2020", "3.2bn"} {
		assert.True(t, IsNumeric(s), s)
	}
	for _, s := range []string{"France", "Q3 revenue", "abc123"} {
		assert.False(t, IsNumeric(s), s)
	}
}

func TestPinNumeric(t *testing.T) {
	src := sampleTable()
	out := src.Clone()
	out.Columns = []string{"País", "PIB"}
	out.Rows[0] = []string{"Francia", "2,9"}

	require.True(t, PinNumeric(src, out))
	assert.Equal(t, "2.9", out.Rows[0][1])
	assert.Equal(t, "Francia", out.Rows[0][0])

	short := NewTable("T1", []string{"a"}, nil)
	assert.False(t, PinNumeric(src, short))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, sampleTable().Validate())
	assert.ErrorIs(t, NewTable("E", nil, nil).Validate(), ErrEmpty)
	assert.ErrorIs(t, NewQA("Q", " ", nil, "", nil).Validate(), ErrEmpty)
}

func TestParseTable_StringifiesScalars(t *testing.T) {
	u, err := ParseTable("T", []byte(`{"columns":["Year","Sales"],"data":[[2020, 1.5],["2021", null]]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"Year", "Sales"}, u.Columns)
	assert.Equal(t, [][]string{{"2020", "1.5"}, {"2021", ""}}, u.Rows)
}

func TestParseTable_Invalid(t *testing.T) {
	_, err := ParseTable("T", []byte(`not json`))
	assert.Error(t, err)
	_, err = ParseTable("T", []byte(`{"foo": 1}`))
	assert.Error(t, err)
	_, err = ParseTable("T", []byte(`[1,2]`))
	assert.Error(t, err)
}

func TestParse_KeepsKindAndContext(t *testing.T) {
	ctx := sampleTable()
	like := NewQA("Q", "Which?", [][]string{{"France"}}, "value", ctx)
	out, err := Parse(like, []byte(`{"question":"¿Cuál?","answer":[["Francia"]]}`))
	require.NoError(t, err)
	assert.Equal(t, KindQA, out.Kind)
	assert.Same(t, ctx, out.Context)
	assert.Equal(t, "value", out.QuestionType)
	assert.True(t, SameShape(like, out))
}

func TestParseQAList_FlatAnswer(t *testing.T) {
	units, err := ParseQAList([]byte(`[{"question":"q1","answer":["a","b"]},{"question":"q2","answer":"c"}]`),
		func(i int) string { return []string{"x", "y"}[i] })
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, [][]string{{"a", "b"}}, units[0].Answer)
	assert.Equal(t, [][]string{{"c"}}, units[1].Answer)
	assert.Equal(t, "y", units[1].ID)
}

func TestPayload_RoundTrip(t *testing.T) {
	u := sampleTable()
	data, err := u.Payload()
	require.NoError(t, err)
	back, err := ParseTable(u.ID, data)
	require.NoError(t, err)
	assert.Equal(t, u.Columns, back.Columns)
	assert.Equal(t, u.Rows, back.Rows)
}

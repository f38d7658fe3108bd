package report

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRun() *Run {
	s := NewScenario("factor-api", "factor", "test-run-default")
	s.Add(Check{Name: "default", Type: "default", Outcome: Pass})
	s.Add(Check{
		Name: "filter name__contains", Type: "filter", Outcome: Fail, Class: "DEFECT",
		Message: "listed ids differ", Expected: []string{"1", "2"}, Actual: []string{"1"},
	})
	s.Add(Check{Name: "order", Type: "order", Outcome: Skip, Class: "SKIP", Message: "count <= 1"})
	s.Note("order: count <= 1")
	return &Run{RunID: "test-run-default", Scenarios: []*Scenario{s}}
}

func TestScenarioAdd(t *testing.T) {
	s := NewScenario("x", "factor", "r")
	s.Add(Check{Outcome: Pass})
	s.Add(Check{Outcome: Skip})
	assert.True(t, s.Pass)

	s.Add(Check{Outcome: Fail})
	assert.False(t, s.Pass)
	assert.False(t, s.Aborted)

	s.Add(Check{Outcome: Fatal})
	assert.True(t, s.Aborted)
	assert.Equal(t, 1, s.Count(Skip))

	run := &Run{Scenarios: []*Scenario{NewScenario("ok", "rule", "r"), s}}
	assert.False(t, run.Pass())
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, sampleRun()))

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "report_text", buf.Bytes())
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleRun()))

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "report_json", buf.Bytes())
}

func TestMarshalCanonical(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"null", nil, `null`},
		{"int", 42, `42`},
		{"integral float", 3.0, `3`},
		{"fraction", 1.5, `1.5`},
		{"json integer", json.Number("57"), `57`},
		{"json decimal", json.Number("2.50"), `2.5`},
		{"no html escaping", "a<b>&c", `"a<b>&c"`},
		{"line separator stays literal", "a\u2028b", "\"a\u2028b\""},
		{"control characters", "a\nb\x01", `"a\nb\u0001"`},
		{"nfc", "e\u0301", "\"\u00e9\""},
		{"cjk", "未找到。", `"未找到。"`},
		{"keys sorted", map[string]any{"b": 1, "a": []any{true, "x"}}, `{"a":[true,"x"],"b":1}`},
		{"utf16 key order", map[string]any{"\U0001F600": 1, "\uffff": 2}, "{\"\U0001F600\":1,\"\uffff\":2}"},
		{"struct via json", struct {
			Z string `json:"z"`
			A int    `json:"a"`
		}{"v", 1}, `{"a":1,"z":"v"}`},
		{"string map", map[string]string{"id": "4"}, `{"id":"4"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshalCanonical_RejectsNonFinite(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"x": []any{1.0, json.Number("1e400")}})
	assert.Error(t, err)
}

func TestDigest(t *testing.T) {
	a, err := Digest(sampleRun().Scenarios[0])
	require.NoError(t, err)
	b, err := Digest(sampleRun().Scenarios[0])
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	other := sampleRun().Scenarios[0]
	other.Checks[0].Outcome = Skip
	c, err := Digest(other)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

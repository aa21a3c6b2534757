package wire

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/pulse/pkg/core"
)

func TestEncode_CreateTraceRun(t *testing.T) {
	b, err := Encode(NewCreateTraceRun("run-1", "app", []string{"v1", "v2"}))
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "create_trace_run", got["msg_type"])
	assert.Equal(t, "run-1", got["uuid"])
	assert.Equal(t, "app", got["app_name"])
	assert.Equal(t, []interface{}{"v1", "v2"}, got["column_names"])
	assert.NotContains(t, got, "row_data")
}

func TestEncode_EmptyCollectionsStayPresent(t *testing.T) {
	b, err := Encode(NewRow("run-1", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"msg_type":"row","uuid":"run-1","row_data":[]}`, string(b))

	b, err = Encode(NewCreateTraceRun("run-1", "app", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"msg_type":"create_trace_run","uuid":"run-1","app_name":"app","column_names":[]}`, string(b))

	// Both decode back cleanly
	_, err = Decode(b)
	assert.NoError(t, err)
}

func TestEncode_RejectsNonFinite(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := Encode(NewRow("run-1", []float64{1, v}))
		assert.ErrorIs(t, err, core.ErrInvalidMessage)
	}
}

func TestDecode_Valid(t *testing.T) {
	m, err := Decode([]byte(`{"msg_type":"create_trace_run","uuid":"U","app_name":"app","column_names":["v1","v2"]}`))
	require.NoError(t, err)
	assert.Equal(t, NewCreateTraceRun("U", "app", []string{"v1", "v2"}), m)

	m, err = Decode([]byte(`{"msg_type":"row","uuid":"U","row_data":[1, 2.5, -3e2]}`))
	require.NoError(t, err)
	assert.Equal(t, NewRow("U", []float64{1, 2.5, -300}), m)
}

func TestDecode_RoundTrip(t *testing.T) {
	msgs := []Message{
		NewCreateTraceRun("a", "svc", []string{"x_hits", "x_active_instances"}),
		NewRow("a", []float64{0, 0.125, 1e9}),
	}
	for _, in := range msgs {
		b, err := Encode(in)
		require.NoError(t, err)
		out, err := Decode(b)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `hello`},
		{"empty", ``},
		{"array", `[1,2]`},
		{"trailing data", `{"msg_type":"row","uuid":"U","row_data":[]} {}`},
		{"missing msg_type", `{"uuid":"U","row_data":[1]}`},
		{"unknown msg_type", `{"msg_type":"delete_run","uuid":"U"}`},
		{"create missing uuid", `{"msg_type":"create_trace_run","app_name":"app","column_names":["a"]}`},
		{"create empty uuid", `{"msg_type":"create_trace_run","uuid":"","app_name":"app","column_names":["a"]}`},
		{"create missing app_name", `{"msg_type":"create_trace_run","uuid":"U","column_names":["a"]}`},
		{"create empty app_name", `{"msg_type":"create_trace_run","uuid":"U","app_name":"","column_names":["a"]}`},
		{"create missing columns", `{"msg_type":"create_trace_run","uuid":"U","app_name":"app"}`},
		{"create empty column name", `{"msg_type":"create_trace_run","uuid":"U","app_name":"app","column_names":["a",""]}`},
		{"create duplicate column", `{"msg_type":"create_trace_run","uuid":"U","app_name":"app","column_names":["a","b","a"]}`},
		{"create wrong column type", `{"msg_type":"create_trace_run","uuid":"U","app_name":"app","column_names":[1]}`},
		{"row missing uuid", `{"msg_type":"row","row_data":[1]}`},
		{"row missing data", `{"msg_type":"row","uuid":"U"}`},
		{"row string value", `{"msg_type":"row","uuid":"U","row_data":["1"]}`},
		{"row null value", `{"msg_type":"row","uuid":"U","row_data":[1,null]}`},
		{"row overflow", `{"msg_type":"row","uuid":"U","row_data":[1e400]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.payload))
			require.Error(t, err)
			assert.True(t, core.IsInvalidMessage(err), "got %v", err)
		})
	}
}

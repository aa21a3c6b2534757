// Package wire encodes and decodes the datagrams exchanged between a tracer
// and the collector.
//
// Two message types exist, both JSON objects:
//
//	{"msg_type":"create_trace_run","uuid":"…","app_name":"…","column_names":["…"]}
//	{"msg_type":"row","uuid":"…","row_data":[1.5, 2]}
//
// Decode rejects anything else with core.ErrInvalidMessage.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/itsneelabh/pulse/pkg/core"
)

// Message types
const (
	TypeCreateTraceRun = "create_trace_run"
	TypeRow            = "row"
)

// Message is a decoded datagram. Fields irrelevant to Type are empty.
type Message struct {
	Type        string    `json:"msg_type"`
	RunID       string    `json:"uuid"`
	AppName     string    `json:"app_name,omitempty"`
	ColumnNames []string  `json:"column_names,omitempty"`
	RowData     []float64 `json:"row_data,omitempty"`
}

// rawMessage keeps pointers so missing fields can be told apart from empty ones.
type rawMessage struct {
	Type        *string     `json:"msg_type"`
	RunID       *string     `json:"uuid"`
	AppName     *string     `json:"app_name"`
	ColumnNames *[]string   `json:"column_names"`
	RowData     *[]*float64 `json:"row_data"`
}

// NewCreateTraceRun builds a create_trace_run message.
func NewCreateTraceRun(runID, appName string, columns []string) Message {
	return Message{Type: TypeCreateTraceRun, RunID: runID, AppName: appName, ColumnNames: columns}
}

// NewRow builds a row message.
func NewRow(runID string, values []float64) Message {
	return Message{Type: TypeRow, RunID: runID, RowData: values}
}

// Encode validates m and serialises it.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	for i, v := range m.RowData {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, invalid("wire.Encode", m.RunID, fmt.Sprintf("row_data[%d] is not a finite number", i))
		}
	}

	out := struct {
		Type        string     `json:"msg_type"`
		RunID       string     `json:"uuid"`
		AppName     string     `json:"app_name,omitempty"`
		ColumnNames []string   `json:"column_names,omitempty"`
		RowData     *[]float64 `json:"row_data,omitempty"`
	}{Type: m.Type, RunID: m.RunID, AppName: m.AppName, ColumnNames: m.ColumnNames}
	if m.Type == TypeRow {
		// An empty row is still a row; keep the field present
		data := m.RowData
		if data == nil {
			data = []float64{}
		}
		out.RowData = &data
	}
	if m.Type == TypeCreateTraceRun && out.ColumnNames == nil {
		out.ColumnNames = []string{}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return b, nil
}

// Decode parses and validates a datagram payload.
func Decode(payload []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	var raw rawMessage
	if err := dec.Decode(&raw); err != nil {
		return Message{}, invalid("wire.Decode", "", fmt.Sprintf("malformed payload: %v", err))
	}
	if dec.More() {
		return Message{}, invalid("wire.Decode", "", "trailing data after message")
	}

	if raw.Type == nil {
		return Message{}, invalid("wire.Decode", "", "missing msg_type")
	}
	m := Message{Type: *raw.Type}
	if raw.RunID != nil {
		m.RunID = *raw.RunID
	}

	switch m.Type {
	case TypeCreateTraceRun:
		if raw.AppName == nil {
			return Message{}, invalid("wire.Decode", m.RunID, "missing app_name")
		}
		if raw.ColumnNames == nil {
			return Message{}, invalid("wire.Decode", m.RunID, "missing column_names")
		}
		m.AppName = *raw.AppName
		m.ColumnNames = *raw.ColumnNames
	case TypeRow:
		if raw.RowData == nil {
			return Message{}, invalid("wire.Decode", m.RunID, "missing row_data")
		}
		m.RowData = make([]float64, len(*raw.RowData))
		for i, v := range *raw.RowData {
			if v == nil {
				return Message{}, invalid("wire.Decode", m.RunID, fmt.Sprintf("row_data[%d] is null", i))
			}
			m.RowData[i] = *v
		}
	}

	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Validate checks the fields required by m.Type.
func (m Message) Validate() error {
	if m.RunID == "" && (m.Type == TypeCreateTraceRun || m.Type == TypeRow) {
		return invalid("wire.Validate", "", "missing uuid")
	}
	switch m.Type {
	case TypeCreateTraceRun:
		if m.AppName == "" {
			return invalid("wire.Validate", m.RunID, "missing app_name")
		}
		seen := make(map[string]struct{}, len(m.ColumnNames))
		for i, c := range m.ColumnNames {
			if c == "" {
				return invalid("wire.Validate", m.RunID, fmt.Sprintf("column_names[%d] is empty", i))
			}
			if _, dup := seen[c]; dup {
				return invalid("wire.Validate", m.RunID, fmt.Sprintf("column_names[%d] duplicates %q", i, c))
			}
			seen[c] = struct{}{}
		}
	case TypeRow:
	default:
		return invalid("wire.Validate", m.RunID, fmt.Sprintf("unknown msg_type %q", m.Type))
	}
	return nil
}

func invalid(op, id, msg string) error {
	return &core.PulseError{
		Op:   op,
		Kind: "message",
		ID:   id,
		Err:  fmt.Errorf("%w: %s", core.ErrInvalidMessage, msg),
	}
}

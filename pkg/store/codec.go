package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/itsneelabh/pulse/pkg/core"
)

// TimeLayout is the format of the time column in read traces.
const TimeLayout = "2006-01-02 15:04:05"

// Encode turns named values into the positional array for columns.
// named must hold exactly one value per column.
func Encode(columns []string, named map[string]float64) ([]float64, error) {
	if len(named) != len(columns) {
		return nil, shapeError("store.Encode", len(columns), len(named))
	}
	values := make([]float64, len(columns))
	for i, c := range columns {
		v, ok := named[c]
		if !ok {
			return nil, &core.PulseError{
				Op:   "store.Encode",
				Kind: "store",
				Err:  fmt.Errorf("%w: missing value for column %q", core.ErrRowShape, c),
			}
		}
		values[i] = v
	}
	return values, nil
}

// Decode maps a positional array back onto column names.
func Decode(columns []string, values []float64) (map[string]float64, error) {
	if len(values) != len(columns) {
		return nil, shapeError("store.Decode", len(columns), len(values))
	}
	named := make(map[string]float64, len(columns))
	for i, c := range columns {
		named[c] = values[i]
	}
	return named, nil
}

// FormatValue renders a value the shortest way that parses back exactly.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatTime renders an arrival time, in UTC, for the time column.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// header builds the first CSV line for a run.
func header(columns []string) string {
	var b strings.Builder
	b.WriteString("time")
	for _, c := range columns {
		b.WriteByte(',')
		b.WriteString(c)
	}
	return b.String()
}

// writeLine appends one CSV line projecting row onto width columns.
func writeLine(b *strings.Builder, row Row, width int) error {
	if len(row.Values) != width {
		return shapeError("store.ReadTrace", width, len(row.Values))
	}
	b.WriteString(FormatTime(row.ArrivedAt))
	for _, v := range row.Values {
		b.WriteByte(',')
		b.WriteString(FormatValue(v))
	}
	return nil
}

func shapeError(op string, want, got int) error {
	return &core.PulseError{
		Op:   op,
		Kind: "store",
		Err:  fmt.Errorf("%w: want %d values, got %d", core.ErrRowShape, want, got),
	}
}

package client

import (
	"encoding/json"
	"fmt"
)

// The stats API wraps every endpoint in the same tabular envelope:
// named result sets, each a header row plus positional value rows.
type statsResponse struct {
	Resource   string      `json:"resource"`
	ResultSets []resultSet `json:"resultSets"`
}

type resultSet struct {
	Name    string   `json:"name"`
	Headers []string `json:"headers"`
	RowSet  [][]any  `json:"rowSet"`
}

func parseResponse(body []byte) (*statsResponse, error) {
	var resp statsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stats response: %w", err)
	}
	if len(resp.ResultSets) == 0 {
		return nil, fmt.Errorf("stats response has no result sets")
	}
	return &resp, nil
}

// set returns the result set with the given name.
func (r *statsResponse) set(name string) (*resultSet, error) {
	for i := range r.ResultSets {
		if r.ResultSets[i].Name == name {
			return &r.ResultSets[i], nil
		}
	}
	return nil, fmt.Errorf("result set %q not found", name)
}

// rows materializes the set's positional rows into column-addressable form.
func (rs *resultSet) rows() []row {
	idx := make(map[string]int, len(rs.Headers))
	for i, h := range rs.Headers {
		idx[h] = i
	}

	out := make([]row, 0, len(rs.RowSet))
	for _, vals := range rs.RowSet {
		out = append(out, row{idx: idx, vals: vals})
	}
	return out
}

// row is one result-set row with access by column name. Numeric cells
// arrive as JSON float64 regardless of the column's logical type, and
// any cell may be null; accessors return zero values for both cases.
type row struct {
	idx  map[string]int
	vals []any
}

func (r row) has(col string) bool {
	i, ok := r.idx[col]
	if !ok || i >= len(r.vals) {
		return false
	}
	return r.vals[i] != nil
}

func (r row) str(col string) string {
	i, ok := r.idx[col]
	if !ok || i >= len(r.vals) {
		return ""
	}
	s, _ := r.vals[i].(string)
	return s
}

func (r row) float(col string) float64 {
	i, ok := r.idx[col]
	if !ok || i >= len(r.vals) {
		return 0
	}
	f, _ := r.vals[i].(float64)
	return f
}

func (r row) int(col string) int {
	return int(r.float(col))
}

// Package domain contains pure, dependency-light domain models and types
// for the quantile forecast ensembling engine.
package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// levelTolerance bounds how far apart two quantile levels may be and still
// be treated as the same level. Source data carries a handful of fixed
// levels (0.01 through 0.99), so anything tighter than this is noise.
const levelTolerance = 1e-9

// caseKeySeparator joins id-column values into a case key. The unit
// separator cannot appear in location codes, dates, or target names.
const caseKeySeparator = "\x1f"

// Record is one long-format forecast row: a case-identifying column map,
// the model that produced the forecast, the quantile level, and the
// forecast value. Missing marks an explicitly absent value; Value is
// ignored when Missing is set.
type Record struct {
	// Case maps id-column names to their values (e.g. location, target
	// end date, target). Every column declared to Build must be present.
	Case map[string]string

	// Model is the name of the model that produced this row.
	Model string

	// QuantileLevel is the probability in (0, 1) at which the quantile
	// value is reported.
	QuantileLevel float64

	// Value is the forecasted quantile value.
	Value float64

	// Missing marks the value as explicitly absent.
	Missing bool
}

// Case is one unique combination of id-column values. A case owns one
// predictive distribution per model. Cases are immutable; Field and Values
// never expose internal slices for modification.
type Case struct {
	columns []string
	values  []string
}

// Field returns the value of the named id column and whether the column
// exists for this case.
func (c Case) Field(name string) (string, bool) {
	for i, col := range c.columns {
		if col == name {
			return c.values[i], true
		}
	}
	return "", false
}

// Key returns a stable string key uniquely identifying this case within
// its matrix. Keys are suitable as map keys and for error reporting.
func (c Case) Key() string {
	return strings.Join(c.values, caseKeySeparator)
}

// Values returns a copy of the id-column values in declaration order.
func (c Case) Values() []string {
	out := make([]string, len(c.values))
	copy(out, c.values)
	return out
}

// Fields returns the case as a column-name to value map.
// The returned map is safe to modify.
func (c Case) Fields() map[string]string {
	out := make(map[string]string, len(c.columns))
	for i, col := range c.columns {
		out[col] = c.values[i]
	}
	return out
}

// String returns a readable representation for debugging and errors.
func (c Case) String() string {
	parts := make([]string, len(c.columns))
	for i, col := range c.columns {
		parts[i] = fmt.Sprintf("%s=%s", col, c.values[i])
	}
	return strings.Join(parts, ",")
}

// Matrix is the canonical dense representation of (case x model x quantile
// level) forecasts. It is constructed once by Build and read-only
// thereafter; Filter and FilterModels return new matrices sharing no
// mutable state with the source, so a Matrix is safe to share across
// goroutines.
//
// Every combination in the addressable cell space Cases x Models x
// QuantileLevels maps to exactly one cell. Combinations absent from the
// source data are missing, never defaulted to zero.
type Matrix struct {
	idColumns []string
	cases     []Case
	models    []string
	levels    []float64

	caseIndex  map[string]int
	modelIndex map[string]int

	// values holds the dense grid; NaN is the internal missing sentinel
	// and is never exposed directly.
	values []float64
}

// Build constructs a Matrix from long-format records. Records are grouped
// by the cross product of idColumns and model; quantile levels are pivoted
// into the level axis. Case and model order follow first occurrence in the
// record stream; quantile levels are sorted strictly increasing.
//
// Build fails with a *SchemaError when a record lacks one of the declared
// id columns, when a quantile level lies outside (0, 1), or when two
// records address the same (case, model, level) cell. Groups that lack a
// level reported elsewhere are pivot-filled with missing cells, preserving
// the invariant that all models and cases share one level set.
func Build(records []Record, idColumns []string) (*Matrix, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	if len(idColumns) == 0 {
		return nil, NewSchemaError("", "at least one id column is required")
	}

	m := &Matrix{
		idColumns:  append([]string(nil), idColumns...),
		caseIndex:  make(map[string]int),
		modelIndex: make(map[string]int),
	}

	// First pass: discover cases, models, and the level set while
	// validating record shape.
	for _, rec := range records {
		if rec.Model == "" {
			return nil, NewSchemaError("", "record has empty model name")
		}
		values := make([]string, len(idColumns))
		for i, col := range idColumns {
			v, ok := rec.Case[col]
			if !ok {
				return nil, NewSchemaError(col, "record is missing id column")
			}
			values[i] = v
		}
		if rec.QuantileLevel <= 0 || rec.QuantileLevel >= 1 {
			return nil, NewSchemaError("", fmt.Sprintf(
				"quantile level %g outside (0, 1)", rec.QuantileLevel))
		}

		c := Case{columns: m.idColumns, values: values}
		if _, ok := m.caseIndex[c.Key()]; !ok {
			m.caseIndex[c.Key()] = len(m.cases)
			m.cases = append(m.cases, c)
		}
		if _, ok := m.modelIndex[rec.Model]; !ok {
			m.modelIndex[rec.Model] = len(m.models)
			m.models = append(m.models, rec.Model)
		}
		if _, ok := canonicalLevel(m.levels, rec.QuantileLevel); !ok {
			m.levels = append(m.levels, rec.QuantileLevel)
		}
	}
	sort.Float64s(m.levels)

	// Second pass: fill the dense grid, rejecting duplicate cells.
	m.values = make([]float64, len(m.cases)*len(m.models)*len(m.levels))
	for i := range m.values {
		m.values[i] = math.NaN()
	}
	assigned := make([]bool, len(m.values))
	for _, rec := range records {
		values := make([]string, len(idColumns))
		for i, col := range idColumns {
			values[i] = rec.Case[col]
		}
		ci := m.caseIndex[strings.Join(values, caseKeySeparator)]
		mi := m.modelIndex[rec.Model]
		li := m.mustLevelIndex(rec.QuantileLevel)
		idx := m.cellIndex(ci, mi, li)
		if assigned[idx] {
			return nil, NewSchemaError("", fmt.Sprintf(
				"duplicate cell for case %q, model %q, level %g",
				m.cases[ci], rec.Model, rec.QuantileLevel))
		}
		assigned[idx] = true
		if !rec.Missing {
			m.values[idx] = rec.Value
		}
	}

	return m, nil
}

// canonicalLevel reports whether target matches an already-registered
// level within tolerance, returning the registered value.
func canonicalLevel(levels []float64, target float64) (float64, bool) {
	for _, l := range levels {
		if math.Abs(l-target) <= levelTolerance {
			return l, true
		}
	}
	return 0, false
}

// cellIndex computes the flat index of a (case, model, level) triple.
func (m *Matrix) cellIndex(ci, mi, li int) int {
	return (ci*len(m.models)+mi)*len(m.levels) + li
}

// mustLevelIndex returns the index of a level known to be registered.
func (m *Matrix) mustLevelIndex(level float64) int {
	li, ok := m.QuantileLevelIndex(level)
	if !ok {
		panic(fmt.Sprintf("level %g not registered", level))
	}
	return li
}

// IDColumns returns a copy of the id-column names in declaration order.
func (m *Matrix) IDColumns() []string {
	out := make([]string, len(m.idColumns))
	copy(out, m.idColumns)
	return out
}

// Cases returns a copy of the case list preserving construction order.
func (m *Matrix) Cases() []Case {
	out := make([]Case, len(m.cases))
	copy(out, m.cases)
	return out
}

// Models returns a copy of the model names preserving construction order.
func (m *Matrix) Models() []string {
	out := make([]string, len(m.models))
	copy(out, m.models)
	return out
}

// QuantileLevels returns a copy of the quantile levels, sorted strictly
// increasing.
func (m *Matrix) QuantileLevels() []float64 {
	out := make([]float64, len(m.levels))
	copy(out, m.levels)
	return out
}

// QuantileLevelIndex returns the index of the given quantile level within
// tolerance, and whether the level exists in this matrix.
func (m *Matrix) QuantileLevelIndex(level float64) (int, bool) {
	for i, l := range m.levels {
		if math.Abs(l-level) <= levelTolerance {
			return i, true
		}
	}
	return 0, false
}

// ModelIndex returns the ordinal of the named model and whether it exists.
func (m *Matrix) ModelIndex(model string) (int, bool) {
	mi, ok := m.modelIndex[model]
	return mi, ok
}

// Value looks up one cell by case, model name, and quantile level. The
// second return value is false when the cell is missing or when the
// coordinates do not address this matrix.
func (m *Matrix) Value(c Case, model string, level float64) (float64, bool) {
	ci, ok := m.caseIndex[c.Key()]
	if !ok {
		return 0, false
	}
	mi, ok := m.modelIndex[model]
	if !ok {
		return 0, false
	}
	li, ok := m.QuantileLevelIndex(level)
	if !ok {
		return 0, false
	}
	return m.ValueAt(ci, mi, li)
}

// ValueAt looks up one cell by ordinal coordinates. The second return
// value is false when the cell is missing. Coordinates must be in range.
func (m *Matrix) ValueAt(caseIdx, modelIdx, levelIdx int) (float64, bool) {
	v := m.values[m.cellIndex(caseIdx, modelIdx, levelIdx)]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Filter returns a new Matrix restricted to the cases matching the
// predicate. The source matrix is never mutated; the result shares no
// mutable state with it. Model and level axes are preserved unchanged.
func (m *Matrix) Filter(pred func(Case) bool) *Matrix {
	out := &Matrix{
		idColumns:  m.idColumns,
		models:     m.models,
		levels:     m.levels,
		caseIndex:  make(map[string]int),
		modelIndex: m.modelIndex,
	}
	rowLen := len(m.models) * len(m.levels)
	for ci, c := range m.cases {
		if !pred(c) {
			continue
		}
		out.caseIndex[c.Key()] = len(out.cases)
		out.cases = append(out.cases, c)
		start := ci * rowLen
		out.values = append(out.values, m.values[start:start+rowLen]...)
	}
	return out
}

// FilterModels returns a new Matrix restricted to the given model subset.
// Models keep their original relative order; names not present in the
// source matrix are ignored. The source matrix is never mutated.
func (m *Matrix) FilterModels(subset []string) *Matrix {
	keep := make(map[string]struct{}, len(subset))
	for _, name := range subset {
		keep[name] = struct{}{}
	}

	out := &Matrix{
		idColumns:  m.idColumns,
		cases:      m.cases,
		levels:     m.levels,
		caseIndex:  m.caseIndex,
		modelIndex: make(map[string]int),
	}
	var srcIdx []int
	for mi, name := range m.models {
		if _, ok := keep[name]; !ok {
			continue
		}
		out.modelIndex[name] = len(out.models)
		out.models = append(out.models, name)
		srcIdx = append(srcIdx, mi)
	}

	out.values = make([]float64, len(out.cases)*len(out.models)*len(out.levels))
	for ci := range out.cases {
		for newMi, oldMi := range srcIdx {
			for li := range out.levels {
				out.values[out.cellIndex(ci, newMi, li)] =
					m.values[m.cellIndex(ci, oldMi, li)]
			}
		}
	}
	return out
}

// Records flattens the matrix back to long format, one Record per
// addressable cell, preserving missing markers. It is the inverse of Build
// up to record order and is used to re-enter Build when deriving a new
// matrix, such as the combiner's ensemble output.
func (m *Matrix) Records() []Record {
	records := make([]Record, 0, len(m.values))
	for ci, c := range m.cases {
		for mi, model := range m.models {
			for li, level := range m.levels {
				v, ok := m.ValueAt(ci, mi, li)
				records = append(records, Record{
					Case:          c.Fields(),
					Model:         model,
					QuantileLevel: level,
					Value:         v,
					Missing:       !ok,
				})
			}
		}
	}
	return records
}

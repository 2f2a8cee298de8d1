package frame

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"cityflow/vehown/errs"
)

// How selects which unmatched rows a join keeps.
type How int

const (
	// Left keeps every left row.
	Left How = iota
	// Inner keeps only rows whose key appears on both sides.
	Inner
	// Right keeps every right row.
	Right
	// Outer keeps every row from both sides.
	Outer
)

func (h How) String() string {
	switch h {
	case Left:
		return "left"
	case Inner:
		return "inner"
	case Right:
		return "right"
	case Outer:
		return "outer"
	}
	return fmt.Sprintf("How(%d)", int(h))
}

// blank marks an empty join key so that it never matches the other side.
const blank = "\x00blank"

// Join merges right into left where left[leftOn] equals right[rightOn], using
// gota's joins.
//
// The result holds the left columns followed by the right columns minus
// rightOn, and the key comes out as an identifier column named leftOn. Left,
// Inner and Outer joins keep left row order, each left row repeated once per
// matching right row; Outer appends the right rows that matched nothing.
// Unmatched right rows carry their own key. An empty key never matches. A
// non-key column name present on both sides is a JoinIntegrityError.
func Join(left, right *Frame, leftOn, rightOn string, how How) (*Frame, error) {
	if !left.Has(leftOn) {
		return nil, errs.Missing(left.source, leftOn)
	}
	if !right.Has(rightOn) {
		return nil, errs.Missing(right.source, rightOn)
	}
	order := left.Columns()
	for _, name := range right.Columns() {
		if name == rightOn {
			continue
		}
		if left.Has(name) {
			return nil, &errs.JoinIntegrityError{
				Key:    leftOn,
				Detail: fmt.Sprintf("column %s present in both %s and %s", name, left.source, right.source),
			}
		}
		order = append(order, name)
	}

	a, err := joinSide(left, leftOn, leftOn, "l")
	if err != nil {
		return nil, err
	}
	b, err := joinSide(right, rightOn, leftOn, "r")
	if err != nil {
		return nil, err
	}
	var joined dataframe.DataFrame
	switch how {
	case Left:
		joined = a.LeftJoin(b, leftOn)
	case Inner:
		joined = a.InnerJoin(b, leftOn)
	case Right:
		joined = a.RightJoin(b, leftOn)
	case Outer:
		joined = a.OuterJoin(b, leftOn)
	default:
		return nil, fmt.Errorf("unknown join %s", how)
	}
	if joined.Err != nil {
		return nil, &errs.JoinIntegrityError{Key: leftOn, Detail: joined.Err.Error()}
	}
	out, err := wrap(left.source, joined.Select(order))
	if err != nil {
		return nil, err
	}
	keys, err := out.Keys(leftOn)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		if strings.HasPrefix(k, blank) {
			keys[i] = ""
		}
	}
	if err := out.SetKeys(leftOn, keys); err != nil {
		return nil, err
	}
	return out, nil
}

// joinSide copies f with its key column turned into a string series named
// as. Empty keys become placeholders unique to the side and row.
func joinSide(f *Frame, on, as, side string) (dataframe.DataFrame, error) {
	keys, err := f.Keys(on)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	for i, k := range keys {
		if k == "" {
			keys[i] = blank + side + strconv.Itoa(i)
		}
	}
	df := f.df.Mutate(series.New(keys, series.String, on))
	if on != as {
		df = df.Rename(as, on)
	}
	if df.Err != nil {
		return dataframe.DataFrame{}, &errs.JoinIntegrityError{Key: on, Detail: df.Err.Error()}
	}
	return df, nil
}

// GroupSum groups rows by the identifier column by and sums each of cols
// within a group with gota's SUM aggregation, NaN cells counting as zero.
// Groups are ordered by key, numerically when both keys are numbers.
func GroupSum(f *Frame, by string, cols []string) (*Frame, error) {
	keys, err := f.Keys(by)
	if err != nil {
		return nil, err
	}
	sel := New(f.source)
	if err := sel.SetKeys(by, keys); err != nil {
		return nil, err
	}
	for _, name := range cols {
		vals, err := f.Floats(name)
		if err != nil {
			return nil, err
		}
		for i, v := range vals {
			if math.IsNaN(v) {
				vals[i] = 0
			}
		}
		if err := sel.SetFloats(name, vals); err != nil {
			return nil, err
		}
	}
	if sel.Len() == 0 {
		return sel, nil
	}

	typs := make([]dataframe.AggregationType, len(cols))
	for i := range typs {
		typs[i] = dataframe.Aggregation_SUM
	}
	groups := sel.df.GroupBy(by)
	if groups.Err != nil {
		return nil, fmt.Errorf("group %s by %s: %w", f.source, by, groups.Err)
	}
	agg := groups.Aggregation(typs, cols)
	if agg.Err != nil {
		return nil, fmt.Errorf("sum %s by %s: %w", f.source, by, agg.Err)
	}

	groupKeys := cellStrings(agg.Col(by))
	perm := make([]int, len(groupKeys))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(a, b int) bool { return keyLess(groupKeys[perm[a]], groupKeys[perm[b]]) })

	out := New(f.source)
	sorted := make([]string, len(perm))
	for i, p := range perm {
		sorted[i] = groupKeys[p]
	}
	if err := out.SetKeys(by, sorted); err != nil {
		return nil, err
	}
	for i, name := range cols {
		s := agg.Col(fmt.Sprintf("%s_%s", name, typs[i]))
		if s.Err != nil {
			return nil, fmt.Errorf("sum %s by %s: %w", f.source, by, s.Err)
		}
		sums := s.Float()
		vals := make([]float64, len(perm))
		for k, p := range perm {
			vals[k] = sums[p]
		}
		if err := out.SetFloats(name, vals); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func keyLess(a, b string) bool {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		if fa != fb {
			return fa < fb
		}
		return a < b
	}
	if (errA == nil) != (errB == nil) {
		return errA == nil
	}
	return a < b
}

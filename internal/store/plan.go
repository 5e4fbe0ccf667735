package store

import (
	"context"
	"fmt"
	"strings"

	"zervios-cms/internal/metadata"
)

// exactPlan is the SQL form of a Query. Its clauses agree with Filter and
// Apply on every row none of the undecided expressions flags; rows holding
// other JSON kinds at a queried path (arrays, objects, booleans, null, or a
// string compared against a number) need the in-memory matcher.
type exactPlan struct {
	where     []string
	undecided []string
	order     []orderKey
}

// orderKey sorts by a system column or by a JSON path. A JSON key orders
// numerically or by bytes depending on what the matched rows hold.
type orderKey struct {
	desc    bool
	column  string
	path    []string
	numeric bool
}

func (p *exactPlan) needsTally() bool {
	if len(p.undecided) > 0 {
		return true
	}
	for _, k := range p.order {
		if k.path != nil {
			return true
		}
	}
	return false
}

func splitPath(field string) ([]string, bool) {
	path := strings.Split(field, ".")
	for _, seg := range path {
		if !isIdent(seg) {
			return nil, false
		}
	}
	return path, true
}

// arrayPrefixes flags rows where a proper prefix of path is an array; the
// in-memory lookup fans out over array elements there.
func (s *Store) arrayPrefixes(path []string) []string {
	var out []string
	for i := 1; i < len(path); i++ {
		out = append(out, s.Dialect.IsTypeAt(path[:i], "array"))
	}
	return out
}

// plan returns the exact plan of q, or false when some condition or sort key
// has no SQL form.
func (s *Store) plan(pb ParamBuilder, q Query) (*exactPlan, bool) {
	p := &exactPlan{}
	for _, c := range q.Where {
		clause, undecided, ok := s.exactCondition(pb, c)
		if !ok {
			return nil, false
		}
		p.where = append(p.where, clause)
		p.undecided = append(p.undecided, undecided...)
	}
	for _, sf := range q.Sort {
		key := orderKey{desc: sf.Desc}
		switch sf.Field {
		case "id":
			key.column = s.Dialect.Bytewise("id")
		case "createdAt":
			key.column = "created_at"
		case "updatedAt":
			key.column = "updated_at"
		default:
			path, ok := splitPath(sf.Field)
			if !ok {
				return nil, false
			}
			key.path = path
		}
		p.order = append(p.order, key)
	}
	return p, true
}

// conditionValue reports how the in-memory matcher treats v: as a number when
// it converts to one, otherwise as a string. Other types are not planned.
func conditionValue(v any) (any, string, bool) {
	if f, ok := metadata.ToFloat(v); ok {
		return f, "number", true
	}
	if str, ok := v.(string); ok {
		return str, "string", true
	}
	return nil, "", false
}

// conditionValues classifies the operand of in/not_in; every element must
// be of the same kind.
func conditionValues(v any) ([]any, string, bool) {
	var raw []any
	switch l := v.(type) {
	case []any:
		raw = l
	case []string:
		for _, item := range l {
			raw = append(raw, item)
		}
	case string:
		for _, item := range strings.Split(l, ",") {
			raw = append(raw, strings.TrimSpace(item))
		}
	default:
		return nil, "", false
	}
	kind := "string"
	out := make([]any, 0, len(raw))
	for i, item := range raw {
		param, k, ok := conditionValue(item)
		if !ok || (i > 0 && k != kind) {
			return nil, "", false
		}
		kind = k
		out = append(out, param)
	}
	return out, kind, true
}

var comparisons = map[string]string{
	metadata.OpGreaterThan:      ">",
	metadata.OpGreaterThanEqual: ">=",
	metadata.OpLessThan:         "<",
	metadata.OpLessThanEqual:    "<=",
}

func placeholders(pb ParamBuilder, values []any) string {
	ph := make([]string, len(values))
	for i, v := range values {
		ph[i] = pb.Add(v)
	}
	return strings.Join(ph, ", ")
}

// wantsPresent evaluates an exists condition for a present, non-null value.
func wantsPresent(c metadata.Condition) bool {
	return c.Match(func(string) (any, bool) { return true, true })
}

func (s *Store) exactCondition(pb ParamBuilder, c metadata.Condition) (string, []string, bool) {
	op, known := metadata.NormalizeOperator(c.Operator)
	if !known || op == metadata.OpLike {
		return "", nil, false
	}
	switch c.Field {
	case "createdAt", "updatedAt":
		return "", nil, false
	case "id":
		return s.idCondition(pb, op, c)
	}
	path, ok := splitPath(c.Field)
	if !ok {
		return "", nil, false
	}
	d := s.Dialect
	undecided := s.arrayPrefixes(path)
	absent := d.AbsentAt(path)

	if op == metadata.OpExists {
		present := fmt.Sprintf("(NOT %s AND NOT %s)", absent, d.IsTypeAt(path, "null"))
		if wantsPresent(c) {
			return present, undecided, true
		}
		return "(NOT " + present + ")", undecided, true
	}

	var (
		param  any
		params []any
		kind   string
	)
	if op == metadata.OpIn || op == metadata.OpNotIn {
		params, kind, ok = conditionValues(c.Value)
	} else {
		param, kind, ok = conditionValue(c.Value)
	}
	if !ok {
		return "", nil, false
	}
	isKind := d.IsTypeAt(path, kind)
	value := d.TextAt(path)
	if kind == "number" {
		value = d.NumberAt(path)
	}
	undecided = append(undecided, fmt.Sprintf("NOT (%s OR %s)", absent, isKind))

	switch op {
	case metadata.OpEquals:
		return fmt.Sprintf("(%s AND %s = %s)", isKind, value, pb.Add(param)), undecided, true
	case metadata.OpNotEquals:
		return fmt.Sprintf("(%s OR (%s AND %s <> %s))", absent, isKind, value, pb.Add(param)), undecided, true
	case metadata.OpIn:
		if len(params) == 0 {
			return "(1 = 0)", undecided, true
		}
		return fmt.Sprintf("(%s AND %s IN (%s))", isKind, value, placeholders(pb, params)), undecided, true
	case metadata.OpNotIn:
		if len(params) == 0 {
			return "(1 = 1)", undecided, true
		}
		return fmt.Sprintf("(%s OR (%s AND %s NOT IN (%s)))", absent, isKind, value, placeholders(pb, params)), undecided, true
	}
	cmp, ok := comparisons[op]
	if !ok {
		return "", nil, false
	}
	if kind == "string" {
		value = d.Bytewise(value)
	}
	return fmt.Sprintf("(%s AND %s %s %s)", isKind, value, cmp, pb.Add(param)), undecided, true
}

// idCondition plans conditions on the id column. Ids are never numeric, so
// only string operands compare the way the in-memory matcher does.
func (s *Store) idCondition(pb ParamBuilder, op string, c metadata.Condition) (string, []string, bool) {
	switch op {
	case metadata.OpExists:
		if wantsPresent(c) {
			return "(1 = 1)", nil, true
		}
		return "(1 = 0)", nil, true
	case metadata.OpIn, metadata.OpNotIn:
		params, kind, ok := conditionValues(c.Value)
		if !ok || kind != "string" {
			return "", nil, false
		}
		in := op == metadata.OpIn
		if len(params) == 0 {
			if in {
				return "(1 = 0)", nil, true
			}
			return "(1 = 1)", nil, true
		}
		if in {
			return fmt.Sprintf("id IN (%s)", placeholders(pb, params)), nil, true
		}
		return fmt.Sprintf("id NOT IN (%s)", placeholders(pb, params)), nil, true
	}
	param, kind, ok := conditionValue(c.Value)
	if !ok || kind != "string" {
		return "", nil, false
	}
	switch op {
	case metadata.OpEquals:
		return "id = " + pb.Add(param), nil, true
	case metadata.OpNotEquals:
		return "id <> " + pb.Add(param), nil, true
	}
	cmp, ok := comparisons[op]
	if !ok {
		return "", nil, false
	}
	return fmt.Sprintf("%s %s %s", s.Dialect.Bytewise("id"), cmp, pb.Add(param)), nil, true
}

// numericText holds for strings strconv.ParseFloat may accept; those compare
// numerically against each other in memory.
func numericText(expr string) string {
	return fmt.Sprintf("(substr(%s, 1, 1) IN ('+', '-', '.', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9') OR lower(%s) IN ('inf', 'infinity', 'nan'))", expr, expr)
}

func flag(expr string) string {
	return fmt.Sprintf("(CASE WHEN %s THEN 1 ELSE 0 END)", expr)
}

func or(exprs []string, empty string) string {
	if len(exprs) == 0 {
		return empty
	}
	return "(" + strings.Join(exprs, " OR ") + ")"
}

func and(exprs []string) string {
	if len(exprs) == 0 {
		return "(1 = 1)"
	}
	return "(" + strings.Join(exprs, " AND ") + ")"
}

// tallyResult summarises a collection against a plan: how many rows the plan
// cannot judge, how many it matches, and per JSON sort key how many matches
// hold numbers, plain strings or anything else.
type tallyResult struct {
	undecided int64
	matches   int64
	numbers   []int64
	texts     []int64
	others    []int64
}

// settle picks the ordering of every JSON sort key, or reports that the
// matched rows mix kinds the database cannot order like Apply does.
func (r *tallyResult) settle(p *exactPlan) bool {
	if r.undecided > 0 {
		return false
	}
	i := 0
	for k := range p.order {
		if p.order[k].path == nil {
			continue
		}
		if r.others[i] > 0 || (r.numbers[i] > 0 && r.texts[i] > 0) {
			return false
		}
		p.order[k].numeric = r.numbers[i] > 0
		i++
	}
	return true
}

func (s *Store) tally(ctx context.Context, collection string, q Query) (*tallyResult, error) {
	d := s.Dialect
	pb := d.NewParamBuilder()
	p, ok := s.plan(pb, q)
	if !ok {
		return nil, fmt.Errorf("tally %s: query has no exact plan", collection)
	}

	inner := []string{flag(or(p.undecided, "(1 = 0)")), flag(and(p.where))}
	outer := []string{"COALESCE(SUM(c0), 0)", "COALESCE(SUM(c1), 0)"}
	keys := 0
	for _, k := range p.order {
		if k.path == nil {
			continue
		}
		absent := d.AbsentAt(k.path)
		number := d.IsTypeAt(k.path, "number")
		text := fmt.Sprintf("(%s AND NOT %s)", d.IsTypeAt(k.path, "string"), numericText(d.TextAt(k.path)))
		other := or(append(s.arrayPrefixes(k.path), fmt.Sprintf("NOT (%s OR %s OR %s)", absent, number, text)), "")
		inner = append(inner, flag(number), flag(text), flag(other))
		for j := 0; j < 3; j++ {
			outer = append(outer, fmt.Sprintf("COALESCE(SUM(c1 * c%d), 0)", len(inner)-3+j))
		}
		keys++
	}
	for i := range inner {
		inner[i] = fmt.Sprintf("%s AS c%d", inner[i], i)
	}
	sqlStr := fmt.Sprintf("SELECT %s FROM (SELECT %s FROM _documents WHERE collection = %s) t",
		strings.Join(outer, ", "), strings.Join(inner, ", "), pb.Add(collection))

	counts := make([]int64, len(outer))
	ptrs := make([]any, len(outer))
	for i := range counts {
		ptrs[i] = &counts[i]
	}
	if err := s.DB.QueryRowContext(ctx, sqlStr, pb.Params()...).Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("tally %s: %w", collection, err)
	}
	res := &tallyResult{undecided: counts[0], matches: counts[1]}
	for i := 0; i < keys; i++ {
		res.numbers = append(res.numbers, counts[2+3*i])
		res.texts = append(res.texts, counts[3+3*i])
		res.others = append(res.others, counts[4+3*i])
	}
	return res, nil
}

// queryExact answers q entirely in SQL when the plan is exact for the rows
// the collection holds. The boolean is false when the caller must fall back.
func (s *Store) queryExact(ctx context.Context, collection string, q Query) ([]*Document, bool, error) {
	d := s.Dialect
	pb := d.NewParamBuilder()
	p, ok := s.plan(pb, q)
	if !ok {
		return nil, false, nil
	}
	if p.needsTally() {
		res, err := s.tally(ctx, collection, q)
		if err != nil {
			return nil, false, err
		}
		if !res.settle(p) {
			return nil, false, nil
		}
	}

	var order []string
	for _, k := range p.order {
		dir := ""
		if k.desc {
			dir = " DESC"
		}
		if k.path == nil {
			order = append(order, k.column+dir)
			continue
		}
		// absent sorts before any value, as in Apply
		order = append(order, fmt.Sprintf("(CASE WHEN %s THEN 0 ELSE 1 END)%s", d.AbsentAt(k.path), dir))
		if k.numeric {
			order = append(order, d.NumberAt(k.path)+dir)
		} else {
			order = append(order, d.Bytewise(d.TextAt(k.path))+dir)
		}
	}
	order = append(order, "created_at", "id")

	limit := d.NoLimit()
	if q.Limit > 0 {
		limit = pb.Add(q.Limit)
	}
	sqlStr := fmt.Sprintf("SELECT "+selectColumns+" FROM _documents WHERE collection = %s AND %s ORDER BY %s LIMIT %s OFFSET %s",
		d.DataSelect(), pb.Add(collection), and(p.where), strings.Join(order, ", "), limit, pb.Add(q.Offset))
	docs, err := s.queryDocuments(ctx, collection, sqlStr, pb.Params()...)
	if err != nil {
		return nil, false, err
	}
	if docs == nil {
		docs = []*Document{}
	}
	return docs, true, nil
}

// countExact counts matches in SQL when the plan is exact for the rows the
// collection holds.
func (s *Store) countExact(ctx context.Context, collection string, where []metadata.Condition) (int, bool, error) {
	q := Query{Where: where}
	pb := s.Dialect.NewParamBuilder()
	p, ok := s.plan(pb, q)
	if !ok {
		return 0, false, nil
	}
	if len(p.undecided) > 0 {
		res, err := s.tally(ctx, collection, q)
		if err != nil || res.undecided > 0 {
			return 0, false, err
		}
		return int(res.matches), true, nil
	}
	var n int64
	sqlStr := fmt.Sprintf("SELECT COUNT(*) FROM _documents WHERE collection = %s AND %s", pb.Add(collection), and(p.where))
	if err := s.DB.QueryRowContext(ctx, sqlStr, pb.Params()...).Scan(&n); err != nil {
		return 0, false, fmt.Errorf("count %s: %w", collection, err)
	}
	return int(n), true, nil
}

// Package query's executor runs a planned statement against a single
// collection's stores. It is grounded on the teacher pack's own
// goroutine-fanned query execution (nornicdb's parallel clause evaluation)
// generalized to VelesDB's vector/property/graph sources, using
// golang.org/x/sync/errgroup for the HybridParallel branch per spec §5's
// cooperative-cancellation requirement.
package query

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/velesdb/velesdb/internal/verror"
	"github.com/velesdb/velesdb/pkg/graph"
	"github.com/velesdb/velesdb/pkg/index/hnsw"
	"github.com/velesdb/velesdb/pkg/payloadlog"
	"github.com/velesdb/velesdb/pkg/propindex"
)

// Engine binds the executor to one collection's concrete stores.
type Engine struct {
	Vectors    *hnsw.Graph
	Payloads   *payloadlog.Store
	Properties *propindex.Manager
	Graph      *graph.Store
}

// Result is the output of executing a query: a row set (for SELECT/MATCH)
// or an affected-row count (for INSERT/UPDATE).
type Result struct {
	Rows     []Binding
	Affected int
}

// Exec parses, plans, and runs src against e.
func (e *Engine) Exec(ctx context.Context, src string, params Params) (*Result, error) {
	stmt, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return e.ExecStatement(ctx, stmt, params)
}

// ExecStatement runs an already-parsed statement.
func (e *Engine) ExecStatement(ctx context.Context, stmt Statement, params Params) (*Result, error) {
	if err := e.resolveSubqueries(ctx, stmt, params); err != nil {
		return nil, err
	}

	plan, err := Plan(stmt, params)
	if err != nil {
		return nil, err
	}

	switch p := plan.(type) {
	case *InsertPlan:
		return e.execInsert(p.Stmt, params)
	case *UpdatePlan:
		return e.execUpdate(p.Stmt, params)
	}

	rows, err := e.run(ctx, plan, params)
	if err != nil {
		return nil, err
	}

	if sel, ok := stmt.(*SelectStmt); ok {
		rows, err = e.finishSelect(sel, rows, params)
		if err != nil {
			return nil, err
		}
	}
	if match, ok := stmt.(*MatchStmt); ok {
		rows, err = e.finishMatch(match, rows, params)
		if err != nil {
			return nil, err
		}
	}
	return &Result{Rows: rows}, nil
}

// finishMatch applies a MATCH statement's RETURN projections to its
// traversal rows. A bare pattern-variable reference (`RETURN a`) projects
// that variable's whole id/fields as a nested object; anything else
// (`a.category`, an aggregate) is evaluated as a scalar.
func (e *Engine) finishMatch(m *MatchStmt, rows []Binding, params Params) ([]Binding, error) {
	out := make([]Binding, 0, len(rows))
	for _, row := range rows {
		fields := make(map[string]any, len(m.Return))
		for _, proj := range m.Return {
			if proj.Star {
				for varName, vb := range row.VarRows {
					fields[varName] = varBindingMap(vb)
				}
				continue
			}
			if cr, ok := proj.Expression.(*ColumnRef); ok {
				if vb, isVar := row.VarRows[cr.Name]; isVar {
					fields[projectionName(proj)] = varBindingMap(vb)
					continue
				}
			}
			v, err := evalValue(proj.Expression, &row, params)
			if err != nil {
				return nil, err
			}
			fields[projectionName(proj)] = v
		}
		out = append(out, Binding{ID: row.ID, Fields: fields, VarRows: row.VarRows})
	}
	return out, nil
}

func varBindingMap(vb VarBinding) map[string]any {
	out := make(map[string]any, len(vb.Fields)+1)
	for k, v := range vb.Fields {
		out[k] = v
	}
	out["id"] = vb.ID
	return out
}

// resolveSubqueries replaces every scalar subquery in stmt's expression
// positions with a Literal carrying its result, in place, since the
// row-wise evaluator has no access to the stores a subquery needs to run
// against. Must run before Plan, which never sees a *SubqueryExpr.
func (e *Engine) resolveSubqueries(ctx context.Context, stmt Statement, params Params) error {
	resolve := func(expr Expression) (Expression, error) {
		return e.resolveExprSubqueries(ctx, expr, params)
	}
	switch s := stmt.(type) {
	case *SelectStmt:
		resolved, err := resolve(s.Where)
		if err != nil {
			return err
		}
		s.Where = resolved
		if s.Having != nil {
			resolved, err := resolve(s.Having)
			if err != nil {
				return err
			}
			s.Having = resolved
		}
		for i, proj := range s.Projections {
			if proj.Expression == nil {
				continue
			}
			resolved, err := resolve(proj.Expression)
			if err != nil {
				return err
			}
			s.Projections[i].Expression = resolved
		}
	case *MatchStmt:
		resolved, err := resolve(s.Where)
		if err != nil {
			return err
		}
		s.Where = resolved
	case *UpdateStmt:
		resolved, err := resolve(s.Where)
		if err != nil {
			return err
		}
		s.Where = resolved
		for k, v := range s.Sets {
			resolved, err := resolve(v)
			if err != nil {
				return err
			}
			s.Sets[k] = resolved
		}
	case *InsertStmt:
		for i, v := range s.Values {
			resolved, err := resolve(v)
			if err != nil {
				return err
			}
			s.Values[i] = resolved
		}
	case *SetOpStmt:
		if err := e.resolveSubqueries(ctx, s.Left, params); err != nil {
			return err
		}
		if err := e.resolveSubqueries(ctx, s.Right, params); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) resolveExprSubqueries(ctx context.Context, expr Expression, params Params) (Expression, error) {
	switch ex := expr.(type) {
	case nil:
		return nil, nil
	case *SubqueryExpr:
		res, err := e.ExecStatement(ctx, ex.Stmt, params)
		if err != nil {
			return nil, err
		}
		if len(res.Rows) == 0 {
			return &Literal{Value: nil}, nil
		}
		return &Literal{Value: scalarFromRow(ex.Stmt, &res.Rows[0])}, nil
	case *BinaryExpr:
		l, err := e.resolveExprSubqueries(ctx, ex.Left, params)
		if err != nil {
			return nil, err
		}
		r, err := e.resolveExprSubqueries(ctx, ex.Right, params)
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Left: l, Operator: ex.Operator, Right: r}, nil
	case *UnaryExpr:
		o, err := e.resolveExprSubqueries(ctx, ex.Operand, params)
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Operator: ex.Operator, Operand: o}, nil
	case *InExpr:
		left, err := e.resolveExprSubqueries(ctx, ex.Left, params)
		if err != nil {
			return nil, err
		}
		if ex.Subquery != nil {
			res, err := e.ExecStatement(ctx, ex.Subquery, params)
			if err != nil {
				return nil, err
			}
			list := make([]Expression, 0, len(res.Rows))
			for i := range res.Rows {
				list = append(list, &Literal{Value: scalarFromRow(ex.Subquery, &res.Rows[i])})
			}
			return &InExpr{Left: left, List: list, Negate: ex.Negate}, nil
		}
		list := make([]Expression, len(ex.List))
		for i, item := range ex.List {
			r, err := e.resolveExprSubqueries(ctx, item, params)
			if err != nil {
				return nil, err
			}
			list[i] = r
		}
		return &InExpr{Left: left, List: list, Negate: ex.Negate}, nil
	case *BetweenExpr:
		left, err := e.resolveExprSubqueries(ctx, ex.Left, params)
		if err != nil {
			return nil, err
		}
		low, err := e.resolveExprSubqueries(ctx, ex.Low, params)
		if err != nil {
			return nil, err
		}
		high, err := e.resolveExprSubqueries(ctx, ex.High, params)
		if err != nil {
			return nil, err
		}
		return &BetweenExpr{Left: left, Low: low, High: high, Negate: ex.Negate}, nil
	case *IsNullExpr:
		operand, err := e.resolveExprSubqueries(ctx, ex.Operand, params)
		if err != nil {
			return nil, err
		}
		return &IsNullExpr{Operand: operand, Negate: ex.Negate}, nil
	case *FunctionCall:
		args := make([]Expression, len(ex.Args))
		for i, a := range ex.Args {
			r, err := e.resolveExprSubqueries(ctx, a, params)
			if err != nil {
				return nil, err
			}
			args[i] = r
		}
		return &FunctionCall{Name: ex.Name, Args: args, Star: ex.Star}, nil
	default:
		return expr, nil
	}
}

// scalarFromRow extracts the single scalar value a subquery contributes:
// its one projected column's value, or the row id for `SELECT *` / multi-
// column subqueries. An aggregate projection was already folded into
// row.Fields by finishSelect, so it's read back by its projected name
// rather than re-evaluated.
func scalarFromRow(sub *SelectStmt, row *Binding) any {
	if len(sub.Projections) == 1 && !sub.Projections[0].Star {
		proj := sub.Projections[0]
		if _, ok := proj.Expression.(*FunctionCall); ok {
			return row.Fields[projectionName(proj)]
		}
		if v, err := evalValue(proj.Expression, row, nil); err == nil {
			return v
		}
	}
	return row.ID
}

func (e *Engine) run(ctx context.Context, plan PlanNode, params Params) ([]Binding, error) {
	select {
	case <-ctx.Done():
		return nil, verror.Cancelled
	default:
	}

	switch p := plan.(type) {
	case *SeqScanPlan:
		return e.execSeqScan(p, params)
	case *IndexScanPlan:
		return e.execIndexScan(p, params)
	case *HybridVectorFirstPlan:
		return e.execVectorSearch(ctx, p.Vector, p.PostFilter, params)
	case *FusedVectorSearchPlan:
		return e.execFusedVector(ctx, p, params)
	case *HybridGraphFirstPlan:
		return e.execGraphSearch(p.Graph, p.PostFilter, params)
	case *GraphSearchPlan:
		return e.execGraphSearch(p, nil, params)
	case *HybridParallelPlan:
		return e.execParallel(ctx, p, params)
	case *SetOpPlan:
		return e.execSetOp(ctx, p, params)
	default:
		return nil, verror.New("query.exec", verror.KindPlan, "unsupported plan node")
	}
}

func (e *Engine) decodePayload(id uint64) (map[string]any, error) {
	raw, err := e.Payloads.Get(id)
	if err != nil {
		if verror.IsKind(err, verror.KindNotFound) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, verror.Wrap("query.decodePayload", verror.KindInvalidArgument, err)
	}
	return fields, nil
}

func (e *Engine) execSeqScan(p *SeqScanPlan, params Params) ([]Binding, error) {
	var out []Binding
	var firstErr error
	e.Payloads.Each(func(id uint64) bool {
		fields, err := e.decodePayload(id)
		if err != nil {
			firstErr = err
			return false
		}
		b := Binding{ID: id, Fields: fields}
		if p.Filter != nil {
			ok, err := Eval(p.Filter, &b, params)
			if err != nil {
				firstErr = err
				return false
			}
			if !ok {
				return true
			}
		}
		out = append(out, b)
		return true
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (e *Engine) execIndexScan(p *IndexScanPlan, params Params) ([]Binding, error) {
	ids, err := e.indexScanIDs(p, params)
	if err != nil {
		return nil, err
	}
	var out []Binding
	for _, id := range ids {
		fields, err := e.decodePayload(id)
		if err != nil {
			return nil, err
		}
		b := Binding{ID: id, Fields: fields}
		if p.Filter != nil {
			ok, err := Eval(p.Filter, &b, params)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, b)
	}
	return out, nil
}

func (e *Engine) indexScanIDs(p *IndexScanPlan, params Params) ([]uint64, error) {
	rv, err := evalValue(literalOrParam(p.Predicate), nil, params)
	if err != nil {
		return nil, err
	}
	switch p.Kind {
	case propindex.KindEquality:
		idx, err := e.Properties.Equality(p.Field)
		if err != nil {
			return nil, err
		}
		return idx.Lookup(rv).ToArray(), nil
	case propindex.KindRange:
		idx, err := e.Properties.Range(p.Field)
		if err != nil {
			return nil, err
		}
		bound, ok := toFloat(rv)
		if !ok {
			return nil, verror.New("query.indexScan", verror.KindInvalidArgument, "range predicate value is not numeric")
		}
		lo, hi := rangeBounds(p.Predicate.Operator, bound)
		return idx.Range(lo, hi).ToArray(), nil
	case propindex.KindTrigram:
		idx, err := e.Properties.Trigram(p.Field)
		if err != nil {
			return nil, err
		}
		pattern, _ := rv.(string)
		return idx.MatchLike(pattern), nil
	default:
		return nil, verror.New("query.indexScan", verror.KindPlan, "unknown index kind")
	}
}

// literalOrParam extracts whichever side of an indexable predicate is not
// the column reference, so its value can be resolved against params.
func literalOrParam(be *BinaryExpr) Expression {
	if _, ok := be.Left.(*ColumnRef); ok {
		return be.Right
	}
	return be.Left
}

func rangeBounds(op string, v float64) (lo, hi float64) {
	const inf = 1e18
	switch op {
	case "<":
		return -inf, v
	case "<=":
		return -inf, v
	case ">":
		return v, inf
	case ">=":
		return v, inf
	default:
		return v, v
	}
}

func (e *Engine) execVectorSearch(ctx context.Context, vp *VectorSearchPlan, postFilter Expression, params Params) ([]Binding, error) {
	results, err := e.vectorSearch(ctx, vp, params)
	if err != nil {
		return nil, err
	}
	var out []Binding
	for _, r := range results {
		fields, err := e.decodePayload(r.ID)
		if err != nil {
			return nil, err
		}
		b := Binding{ID: r.ID, Fields: fields, Score: r.Score}
		if postFilter != nil {
			ok, err := Eval(postFilter, &b, params)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, b)
	}
	return out, nil
}

func (e *Engine) vectorSearch(ctx context.Context, vp *VectorSearchPlan, params Params) ([]hnsw.Result, error) {
	qv, err := evalValue(vp.Query, nil, params)
	if err != nil {
		return nil, err
	}
	vec, err := toFloat32Vector(qv)
	if err != nil {
		return nil, err
	}
	ef := vp.Ef
	if ef < vp.K {
		ef = vp.K
	}
	return e.Vectors.Search(ctx, vec, vp.K, ef, ctx.Done())
}

func toFloat32Vector(v any) ([]float32, error) {
	switch vv := v.(type) {
	case []float32:
		return vv, nil
	case []float64:
		out := make([]float32, len(vv))
		for i, f := range vv {
			out[i] = float32(f)
		}
		return out, nil
	case []any:
		out := make([]float32, len(vv))
		for i, f := range vv {
			fv, ok := toFloat(f)
			if !ok {
				return nil, verror.New("query.vector", verror.KindInvalidArgument, "vector element is not numeric")
			}
			out[i] = float32(fv)
		}
		return out, nil
	default:
		return nil, verror.New("query.vector", verror.KindInvalidArgument, "NEAR query value is not a vector")
	}
}

func (e *Engine) execFusedVector(ctx context.Context, p *FusedVectorSearchPlan, params Params) ([]Binding, error) {
	results, err := e.vectorSearch(ctx, p.Vector, params)
	if err != nil {
		return nil, err
	}
	ranked := make([]RankedResult, len(results))
	for i, r := range results {
		ranked[i] = RankedResult{ID: r.ID, Score: float64(r.Score)}
	}
	fused := Fuse(p.Fusion.Strategy, p.Fusion.Params, [][]RankedResult{ranked})
	return e.bindingsFromRanked(fused)
}

func (e *Engine) bindingsFromRanked(ranked []RankedResult) ([]Binding, error) {
	out := make([]Binding, 0, len(ranked))
	for _, r := range ranked {
		fields, err := e.decodePayload(r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, Binding{ID: r.ID, Fields: fields, Score: r.Score})
	}
	return out, nil
}

// execGraphSearch evaluates a MATCH pattern. When the WHERE clause anchors
// the pattern's start variable to a literal id, it traverses from that node
// (the common case: "find what's reachable from X"). Otherwise there is no
// single node to start from, so it enumerates every edge of the pattern's
// allowed label set directly into (fromVar, toVar) bindings — the only way
// to satisfy an anchor-free query like `MATCH (a)-[:REL]->(b) RETURN a,b`.
func (e *Engine) execGraphSearch(p *GraphSearchPlan, postFilter Expression, params Params) ([]Binding, error) {
	start, anchored, err := e.resolveStartNode(p.Pattern, p.Filter, params)
	if err != nil {
		return nil, err
	}
	if anchored {
		return e.execGraphSearchFromStart(p, start, postFilter, params)
	}
	return e.execGraphSearchAllEdges(p, postFilter, params)
}

func (e *Engine) execGraphSearchFromStart(p *GraphSearchPlan, start uint64, postFilter Expression, params Params) ([]Binding, error) {
	cfg := graph.Config{
		MaxDepth:      p.Pattern.MaxHops,
		AllowedLabels: labelsOf(p.Pattern.EdgeLabel),
		Direction:     directionOf(p.Pattern.Direction),
	}
	visits := e.Graph.BFS(start, cfg)

	startFields, err := e.decodePayload(start)
	if err != nil {
		return nil, err
	}

	var out []Binding
	for _, v := range visits {
		if v.Depth < p.Pattern.MinHops {
			continue
		}
		fields, err := e.decodePayload(v.TargetID)
		if err != nil {
			return nil, err
		}
		b := Binding{
			ID:     v.TargetID,
			Fields: fields,
			VarRows: map[string]VarBinding{
				p.Pattern.FromVar: {ID: start, Fields: startFields},
				p.Pattern.ToVar:   {ID: v.TargetID, Fields: fields},
			},
		}
		if postFilter != nil {
			ok, err := Eval(postFilter, &b, params)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, b)
	}
	return out, nil
}

// execGraphSearchAllEdges enumerates every edge whose label matches the
// pattern, one binding per edge, oriented per the pattern's direction.
func (e *Engine) execGraphSearchAllEdges(p *GraphSearchPlan, postFilter Expression, params Params) ([]Binding, error) {
	if p.Pattern.MinHops > 1 || p.Pattern.MaxHops < 1 {
		return nil, nil
	}

	var out []Binding
	var iterErr error
	e.Graph.EachEdge(labelsOf(p.Pattern.EdgeLabel), func(edge graph.Edge) bool {
		fromID, toID := edge.Source, edge.Target
		if p.Pattern.Direction == DirIn {
			fromID, toID = edge.Target, edge.Source
		}

		fromFields, err := e.decodePayload(fromID)
		if err != nil {
			iterErr = err
			return false
		}
		toFields, err := e.decodePayload(toID)
		if err != nil {
			iterErr = err
			return false
		}

		b := Binding{
			ID:     toID,
			Fields: toFields,
			VarRows: map[string]VarBinding{
				p.Pattern.FromVar: {ID: fromID, Fields: fromFields},
				p.Pattern.ToVar:   {ID: toID, Fields: toFields},
			},
		}
		if postFilter != nil {
			ok, err := Eval(postFilter, &b, params)
			if err != nil {
				iterErr = err
				return false
			}
			if !ok {
				return true
			}
		}
		out = append(out, b)
		return true
	})
	if iterErr != nil {
		return nil, iterErr
	}

	if p.Pattern.Direction == DirEither {
		var reverse []Binding
		e.Graph.EachEdge(labelsOf(p.Pattern.EdgeLabel), func(edge graph.Edge) bool {
			fromFields, err := e.decodePayload(edge.Target)
			if err != nil {
				iterErr = err
				return false
			}
			toFields, err := e.decodePayload(edge.Source)
			if err != nil {
				iterErr = err
				return false
			}
			b := Binding{
				ID:     edge.Source,
				Fields: toFields,
				VarRows: map[string]VarBinding{
					p.Pattern.FromVar: {ID: edge.Target, Fields: fromFields},
					p.Pattern.ToVar:   {ID: edge.Source, Fields: toFields},
				},
			}
			if postFilter != nil {
				ok, err := Eval(postFilter, &b, params)
				if err != nil {
					iterErr = err
					return false
				}
				if !ok {
					return true
				}
			}
			reverse = append(reverse, b)
			return true
		})
		if iterErr != nil {
			return nil, iterErr
		}
		out = append(out, reverse...)
	}
	return out, nil
}

// resolveStartNode looks for an `<fromVar>.id = <value>` equality conjunct
// to pin the traversal's starting node. When none is present, ok is false
// and the caller falls back to enumerating the whole relationship type.
func (e *Engine) resolveStartNode(pat PatternElement, where Expression, params Params) (id uint64, ok bool, err error) {
	want := strings.ToLower(pat.FromVar) + ".id"
	for _, c := range flattenAnd(where) {
		be, isBin := c.(*BinaryExpr)
		if !isBin || be.Operator != "=" {
			continue
		}
		col, lit := asColumnExpr(be.Left), be.Right
		if col == "" {
			col, lit = asColumnExpr(be.Right), be.Left
		}
		if strings.ToLower(col) != want && strings.ToLower(col) != "id" {
			continue
		}
		v, err := evalValue(lit, nil, params)
		if err != nil {
			return 0, false, err
		}
		f, numeric := toFloat(v)
		if !numeric {
			return 0, false, verror.New("query.graph", verror.KindInvalidArgument, "start node id must be numeric")
		}
		return uint64(f), true, nil
	}
	return 0, false, nil
}

func asColumnExpr(e Expression) string {
	if c, ok := e.(*ColumnRef); ok {
		return c.Name
	}
	return ""
}

func labelsOf(label string) []string {
	if label == "" {
		return nil
	}
	return []string{label}
}

func directionOf(d EdgeDirection) graph.Direction {
	switch d {
	case DirIn:
		return graph.In
	case DirEither:
		return graph.Both
	default:
		return graph.Out
	}
}

func (e *Engine) execParallel(ctx context.Context, p *HybridParallelPlan, params Params) ([]Binding, error) {
	results := make([][]Binding, len(p.Branches))
	g, gctx := errgroup.WithContext(ctx)
	for i, branch := range p.Branches {
		i, branch := i, branch
		g.Go(func() error {
			rows, err := e.run(gctx, branch, params)
			if err != nil {
				return err
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sources := make([][]RankedResult, len(results))
	for i, rows := range results {
		ranked := make([]RankedResult, len(rows))
		for j, b := range rows {
			ranked[j] = RankedResult{ID: b.ID, Score: b.Score}
		}
		sources[i] = ranked
	}
	strategy, fparams := "rrf", map[string]any{}
	if p.Fusion != nil {
		strategy, fparams = p.Fusion.Strategy, p.Fusion.Params
	}
	fused := Fuse(strategy, fparams, sources)
	return e.bindingsFromRanked(fused)
}

func (e *Engine) execSetOp(ctx context.Context, p *SetOpPlan, params Params) ([]Binding, error) {
	left, err := e.run(ctx, p.Left, params)
	if err != nil {
		return nil, err
	}
	right, err := e.run(ctx, p.Right, params)
	if err != nil {
		return nil, err
	}
	return applySetOp(p.Op, left, right), nil
}

// applySetOp combines two binding sets by id. UNION is associative and
// commutative up to ordering; INTERSECT and EXCEPT are idempotent, since
// both only ever test set membership.
func applySetOp(op SetOp, left, right []Binding) []Binding {
	rightIDs := make(map[uint64]bool, len(right))
	for _, b := range right {
		rightIDs[b.ID] = true
	}

	switch op {
	case SetOpUnionAll:
		return append(append([]Binding{}, left...), right...)
	case SetOpUnion:
		seen := make(map[uint64]bool, len(left))
		var out []Binding
		for _, b := range left {
			if !seen[b.ID] {
				seen[b.ID] = true
				out = append(out, b)
			}
		}
		for _, b := range right {
			if !seen[b.ID] {
				seen[b.ID] = true
				out = append(out, b)
			}
		}
		return out
	case SetOpIntersect:
		var out []Binding
		seen := make(map[uint64]bool)
		for _, b := range left {
			if rightIDs[b.ID] && !seen[b.ID] {
				seen[b.ID] = true
				out = append(out, b)
			}
		}
		return out
	case SetOpExcept:
		var out []Binding
		seen := make(map[uint64]bool)
		for _, b := range left {
			if !rightIDs[b.ID] && !seen[b.ID] {
				seen[b.ID] = true
				out = append(out, b)
			}
		}
		return out
	default:
		return left
	}
}

// finishSelect applies GROUP BY/HAVING/ORDER BY/LIMIT/OFFSET/DISTINCT over
// an already-filtered row set.
func (e *Engine) finishSelect(s *SelectStmt, rows []Binding, params Params) ([]Binding, error) {
	rows, err := applyGroupBy(s, rows, params)
	if err != nil {
		return nil, err
	}

	if len(s.OrderBy) > 0 {
		sort.SliceStable(rows, func(i, j int) bool {
			for _, item := range s.OrderBy {
				vi, _ := evalValue(item.Expression, &rows[i], params)
				vj, _ := evalValue(item.Expression, &rows[j], params)
				cmp := compareAny(vi, vj)
				if cmp == 0 {
					continue
				}
				if item.Descending {
					return cmp > 0
				}
				return cmp < 0
			}
			return false
		})
	}

	if s.Distinct {
		seen := make(map[uint64]bool, len(rows))
		deduped := rows[:0]
		for _, b := range rows {
			if !seen[b.ID] {
				seen[b.ID] = true
				deduped = append(deduped, b)
			}
		}
		rows = deduped
	}

	if s.HasOffset && s.Offset < len(rows) {
		rows = rows[s.Offset:]
	} else if s.HasOffset {
		rows = nil
	}
	if s.HasLimit && s.Limit < len(rows) {
		rows = rows[:s.Limit]
	}
	return rows, nil
}

func compareAny(a, b any) int {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs)
	}
	return 0
}

// applyGroupBy collapses rows into one binding per distinct group key,
// honoring WITH(max_groups=N, group_limit=N), evaluating any aggregate
// projection (COUNT/SUM/AVG/MIN/MAX) over each group's members, and
// evaluating HAVING against the group once those aggregates are in scope.
// A query with no GROUP BY but an aggregate projection (e.g. `SELECT
// COUNT(*) FROM c`) is treated as a single implicit group over every row,
// per spec §4.4.
func applyGroupBy(s *SelectStmt, rows []Binding, params Params) ([]Binding, error) {
	aggregating := len(s.GroupBy) > 0 || hasAggregateProjection(s.Projections)
	if !aggregating {
		if s.Having != nil {
			var out []Binding
			for _, b := range rows {
				ok, err := Eval(s.Having, &b, params)
				if err != nil {
					return nil, err
				}
				if ok {
					out = append(out, b)
				}
			}
			return out, nil
		}
		return rows, nil
	}

	type group struct {
		key     string
		rep     Binding
		members []Binding
	}
	order := make([]string, 0)
	groups := make(map[string]*group)

	groupLimit := 0
	if v, ok := s.GroupOpts["group_limit"]; ok {
		if f, ok := toFloat(v); ok {
			groupLimit = int(f)
		}
	}
	maxGroups := 0
	if v, ok := s.GroupOpts["max_groups"]; ok {
		if f, ok := toFloat(v); ok {
			maxGroups = int(f)
		}
	}

	if len(s.GroupBy) == 0 {
		// No grouping columns: one implicit group so an aggregate still
		// produces a row (COUNT(*) = 0, say) even over zero input rows.
		groups[""] = &group{}
		order = append(order, "")
	}

	groupKey := func(b *Binding) string {
		if len(s.GroupBy) == 0 {
			return ""
		}
		var key strings.Builder
		for _, field := range s.GroupBy {
			key.WriteString(field)
			key.WriteByte('=')
			key.WriteString(toKeyString(columnValue(field, b)))
			key.WriteByte('|')
		}
		return key.String()
	}

	for _, b := range rows {
		k := groupKey(&b)
		g, ok := groups[k]
		if !ok {
			if maxGroups > 0 && len(order) >= maxGroups {
				continue
			}
			g = &group{key: k}
			groups[k] = g
			order = append(order, k)
		}
		if groupLimit > 0 && len(g.members) >= groupLimit {
			continue
		}
		if len(g.members) == 0 {
			g.rep = b
		}
		g.members = append(g.members, b)
	}

	var out []Binding
	for _, k := range order {
		g := groups[k]
		fields := copyFields(g.rep.Fields)
		for _, proj := range s.Projections {
			if proj.Star || !containsAggregate(proj.Expression) {
				continue
			}
			v, err := evalAggregateExpr(proj.Expression, g.members, params)
			if err != nil {
				return nil, err
			}
			fields[projectionName(proj)] = v
		}
		rep := g.rep
		rep.Fields = fields

		if s.Having != nil {
			folded, err := foldAggregates(s.Having, g.members, params)
			if err != nil {
				return nil, err
			}
			ok, err := Eval(folded, &rep, params)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, rep)
	}
	return out, nil
}

// hasAggregateProjection reports whether any projection computes an
// aggregate, which forces GROUP-BY-less aggregation over all rows as a
// single implicit group.
func hasAggregateProjection(projs []Projection) bool {
	for _, p := range projs {
		if !p.Star && containsAggregate(p.Expression) {
			return true
		}
	}
	return false
}

// containsAggregate reports whether expr is, or contains, a FunctionCall —
// the only node kind an aggregate function compiles to.
func containsAggregate(expr Expression) bool {
	switch e := expr.(type) {
	case *FunctionCall:
		return true
	case *BinaryExpr:
		return containsAggregate(e.Left) || containsAggregate(e.Right)
	case *UnaryExpr:
		return containsAggregate(e.Operand)
	case *InExpr:
		return containsAggregate(e.Left)
	case *BetweenExpr:
		return containsAggregate(e.Left)
	case *IsNullExpr:
		return containsAggregate(e.Operand)
	default:
		return false
	}
}

// foldAggregates constant-folds every FunctionCall within expr into a
// Literal holding its value over members, so the result can be evaluated by
// the ordinary row-wise Eval (used for HAVING, which can reference
// aggregates computed over the group as a whole).
func foldAggregates(expr Expression, members []Binding, params Params) (Expression, error) {
	switch e := expr.(type) {
	case nil:
		return nil, nil
	case *FunctionCall:
		v, err := evalAggregate(e, members, params)
		if err != nil {
			return nil, err
		}
		return &Literal{Value: v}, nil
	case *BinaryExpr:
		l, err := foldAggregates(e.Left, members, params)
		if err != nil {
			return nil, err
		}
		r, err := foldAggregates(e.Right, members, params)
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Left: l, Operator: e.Operator, Right: r}, nil
	case *UnaryExpr:
		o, err := foldAggregates(e.Operand, members, params)
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Operator: e.Operator, Operand: o}, nil
	case *InExpr:
		l, err := foldAggregates(e.Left, members, params)
		if err != nil {
			return nil, err
		}
		return &InExpr{Left: l, List: e.List, Subquery: e.Subquery, Negate: e.Negate}, nil
	case *BetweenExpr:
		l, err := foldAggregates(e.Left, members, params)
		if err != nil {
			return nil, err
		}
		return &BetweenExpr{Left: l, Low: e.Low, High: e.High, Negate: e.Negate}, nil
	case *IsNullExpr:
		o, err := foldAggregates(e.Operand, members, params)
		if err != nil {
			return nil, err
		}
		return &IsNullExpr{Operand: o, Negate: e.Negate}, nil
	default:
		return expr, nil
	}
}

// evalAggregateExpr folds expr's aggregate calls over members and evaluates
// the result, for use outside HAVING (e.g. a SELECT projection).
func evalAggregateExpr(expr Expression, members []Binding, params Params) (any, error) {
	folded, err := foldAggregates(expr, members, params)
	if err != nil {
		return nil, err
	}
	var rep Binding
	if len(members) > 0 {
		rep = members[0]
	}
	return evalValue(folded, &rep, params)
}

// evalAggregate computes one aggregate function's value over a group's
// member rows, per spec §4.4: COUNT(*)/COUNT(col)/SUM/AVG/MIN/MAX.
func evalAggregate(fc *FunctionCall, members []Binding, params Params) (any, error) {
	name := strings.ToUpper(fc.Name)
	if name == "COUNT" {
		if fc.Star || len(fc.Args) == 0 {
			return float64(len(members)), nil
		}
		n := 0
		for _, m := range members {
			v, err := evalValue(fc.Args[0], &m, params)
			if err != nil {
				return nil, err
			}
			if v != nil {
				n++
			}
		}
		return float64(n), nil
	}

	if len(fc.Args) == 0 {
		return nil, verror.New("query.eval", verror.KindInvalidArgument, strings.ToLower(name)+"() requires an argument")
	}
	var vals []float64
	for _, m := range members {
		v, err := evalValue(fc.Args[0], &m, params)
		if err != nil {
			return nil, err
		}
		if f, ok := toFloat(v); ok {
			vals = append(vals, f)
		}
	}

	switch name {
	case "SUM":
		var sum float64
		for _, f := range vals {
			sum += f
		}
		return sum, nil
	case "AVG":
		if len(vals) == 0 {
			return 0.0, nil
		}
		var sum float64
		for _, f := range vals {
			sum += f
		}
		return sum / float64(len(vals)), nil
	case "MIN":
		if len(vals) == 0 {
			return nil, nil
		}
		min := vals[0]
		for _, f := range vals[1:] {
			if f < min {
				min = f
			}
		}
		return min, nil
	case "MAX":
		if len(vals) == 0 {
			return nil, nil
		}
		max := vals[0]
		for _, f := range vals[1:] {
			if f > max {
				max = f
			}
		}
		return max, nil
	default:
		return nil, verror.New("query.eval", verror.KindInvalidArgument, "unknown aggregate function: "+fc.Name)
	}
}

// projectionName derives a projection's output field name: its alias when
// given, else COUNT(*)-style "count"/"sum_score" for an aggregate, else a
// bare column's own name.
func projectionName(proj Projection) string {
	if proj.Alias != "" {
		return proj.Alias
	}
	switch e := proj.Expression.(type) {
	case *FunctionCall:
		return aggregateFieldName(e)
	case *ColumnRef:
		return e.Name
	default:
		return "expr"
	}
}

func aggregateFieldName(fc *FunctionCall) string {
	name := strings.ToLower(fc.Name)
	if fc.Star || len(fc.Args) == 0 {
		return name
	}
	if col, ok := fc.Args[0].(*ColumnRef); ok {
		return name + "_" + col.Name
	}
	return name
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func toKeyString(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	case nil:
		return "<nil>"
	default:
		b, _ := json.Marshal(vv)
		return string(b)
	}
}

func (e *Engine) execInsert(s *InsertStmt, params Params) (*Result, error) {
	fields := make(map[string]any, len(s.Columns))
	var id uint64
	for i, col := range s.Columns {
		if i >= len(s.Values) {
			break
		}
		v, err := evalValue(s.Values[i], nil, params)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(col, "id") {
			if f, ok := toFloat(v); ok {
				id = uint64(f)
			}
			continue
		}
		if strings.EqualFold(col, "vector") {
			vec, err := toFloat32Vector(v)
			if err != nil {
				return nil, err
			}
			if e.Vectors != nil {
				if err := e.Vectors.Insert(id, vec, len(vec)); err != nil {
					return nil, err
				}
			}
			continue
		}
		fields[col] = v
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, verror.Wrap("query.execInsert", verror.KindInvalidArgument, err)
	}
	if err := e.Payloads.Put(id, payload); err != nil {
		return nil, err
	}
	e.Properties.IndexPoint(id, fields)
	return &Result{Affected: 1}, nil
}

func (e *Engine) execUpdate(s *UpdateStmt, params Params) (*Result, error) {
	ids, err := e.idsMatchingWhere(s.Table, s.Where, params)
	if err != nil {
		return nil, err
	}
	affected := 0
	for _, id := range ids {
		fields, err := e.decodePayload(id)
		if err != nil {
			return nil, err
		}
		e.Properties.RemovePoint(id, fields)
		for col, expr := range s.Sets {
			v, err := evalValue(expr, nil, params)
			if err != nil {
				return nil, err
			}
			fields[col] = v
		}
		payload, err := json.Marshal(fields)
		if err != nil {
			return nil, verror.Wrap("query.execUpdate", verror.KindInvalidArgument, err)
		}
		if err := e.Payloads.Put(id, payload); err != nil {
			return nil, err
		}
		e.Properties.IndexPoint(id, fields)
		affected++
	}
	return &Result{Affected: affected}, nil
}

func (e *Engine) idsMatchingWhere(table string, where Expression, params Params) ([]uint64, error) {
	var ids []uint64
	var firstErr error
	e.Payloads.Each(func(id uint64) bool {
		fields, err := e.decodePayload(id)
		if err != nil {
			firstErr = err
			return false
		}
		b := Binding{ID: id, Fields: fields}
		if where != nil {
			ok, err := Eval(where, &b, params)
			if err != nil {
				firstErr = err
				return false
			}
			if !ok {
				return true
			}
		}
		ids = append(ids, id)
		return true
	})
	return ids, firstErr
}

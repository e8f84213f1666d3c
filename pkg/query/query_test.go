package query

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/velesdb/velesdb/internal/obslog"
	"github.com/velesdb/velesdb/pkg/graph"
	"github.com/velesdb/velesdb/pkg/index/hnsw"
	"github.com/velesdb/velesdb/pkg/payloadlog"
	"github.com/velesdb/velesdb/pkg/propindex"
	"github.com/velesdb/velesdb/pkg/simd"
)

func TestParseSelectRoundTrip(t *testing.T) {
	stmt, err := Parse(`SELECT id, category FROM docs WHERE category = 'tech' AND score > 5 ORDER BY score DESC LIMIT 10`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sel, ok := stmt.(*SelectStmt)
	if !ok {
		t.Fatalf("expected *SelectStmt, got %T", stmt)
	}
	if sel.From != "docs" || !sel.HasLimit || sel.Limit != 10 {
		t.Fatalf("unexpected select: %+v", sel)
	}
	if len(sel.OrderBy) != 1 || !sel.OrderBy[0].Descending {
		t.Fatalf("expected one descending order item, got %+v", sel.OrderBy)
	}
}

func TestParseVectorNearAndFusion(t *testing.T) {
	stmt, err := Parse(`SELECT * FROM docs WHERE vector NEAR $q AND category = 'tech' LIMIT 5 USING FUSION rrf(k=60)`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sel := stmt.(*SelectStmt)
	if sel.Fusion == nil || sel.Fusion.Strategy != "rrf" {
		t.Fatalf("expected rrf fusion clause, got %+v", sel.Fusion)
	}
}

func TestParseMatchOneHop(t *testing.T) {
	stmt, err := Parse(`MATCH (a)-[:RELATED_TO]->(b) WHERE a.id = 1 RETURN b`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m := stmt.(*MatchStmt)
	if m.Pattern.FromVar != "a" || m.Pattern.ToVar != "b" || m.Pattern.EdgeLabel != "RELATED_TO" {
		t.Fatalf("unexpected pattern: %+v", m.Pattern)
	}
}

func TestParseInsertAndUpdate(t *testing.T) {
	if _, err := Parse(`INSERT INTO docs (id, category) VALUES (1, 'tech')`); err != nil {
		t.Fatalf("Parse insert: %v", err)
	}
	if _, err := Parse(`UPDATE docs SET category = 'food' WHERE id = 1`); err != nil {
		t.Fatalf("Parse update: %v", err)
	}
}

func TestEvalWhereExpression(t *testing.T) {
	expr := &BinaryExpr{
		Left:     &ColumnRef{Name: "category"},
		Operator: "=",
		Right:    &Literal{Value: "tech"},
	}
	b := &Binding{ID: 1, Fields: map[string]any{"category": "tech"}}
	ok, err := Eval(expr, b, nil)
	if err != nil || !ok {
		t.Fatalf("Eval = %v, %v; want true, nil", ok, err)
	}

	b.Fields["category"] = "food"
	ok, err = Eval(expr, b, nil)
	if err != nil || ok {
		t.Fatalf("Eval = %v, %v; want false, nil", ok, err)
	}
}

func TestFusionRRFMonotonicity(t *testing.T) {
	a := []RankedResult{{ID: 1, Score: 1}, {ID: 2, Score: 0.9}}
	withoutExtra := Fuse("rrf", nil, [][]RankedResult{a})
	scoreOf := func(rs []RankedResult, id uint64) float64 {
		for _, r := range rs {
			if r.ID == id {
				return r.Score
			}
		}
		return -1
	}
	before := scoreOf(withoutExtra, 1)

	b := []RankedResult{{ID: 1, Score: 0.5}, {ID: 3, Score: 0.4}}
	withExtra := Fuse("rrf", nil, [][]RankedResult{a, b})
	after := scoreOf(withExtra, 1)

	if after < before {
		t.Fatalf("adding a source containing id=1 decreased its score: %v -> %v", before, after)
	}
}

func TestFusionMaximumAndAverage(t *testing.T) {
	// Two sources on very different raw scales; each normalizes to [0,1]
	// before combination, so neither's scale dominates.
	a := []RankedResult{{ID: 1, Score: 0}, {ID: 2, Score: 5}, {ID: 3, Score: 10}}
	b := []RankedResult{{ID: 1, Score: 100}, {ID: 2, Score: 50}, {ID: 3, Score: 0}}

	scoreOf := func(rs []RankedResult, id uint64) float64 {
		for _, r := range rs {
			if r.ID == id {
				return r.Score
			}
		}
		return -1
	}

	max := Fuse("maximum", nil, [][]RankedResult{a, b})
	if scoreOf(max, 1) != 1.0 || scoreOf(max, 2) != 0.5 || scoreOf(max, 3) != 1.0 {
		t.Fatalf("maximum fusion = %+v, want normalized maxima [1:1.0 2:0.5 3:1.0]", max)
	}

	avg := Fuse("average", nil, [][]RankedResult{a, b})
	if scoreOf(avg, 1) != 0.5 || scoreOf(avg, 2) != 0.5 || scoreOf(avg, 3) != 0.5 {
		t.Fatalf("average fusion = %+v, want normalized averages all 0.5", avg)
	}
}

func TestSetOpProperties(t *testing.T) {
	left := []Binding{{ID: 1}, {ID: 2}}
	right := []Binding{{ID: 2}, {ID: 3}}

	union := applySetOp(SetOpUnion, left, right)
	if len(union) != 3 {
		t.Fatalf("UNION = %d rows, want 3", len(union))
	}
	reverseUnion := applySetOp(SetOpUnion, right, left)
	if len(reverseUnion) != len(union) {
		t.Fatalf("UNION not commutative up to ordering: %d vs %d", len(union), len(reverseUnion))
	}

	inter := applySetOp(SetOpIntersect, left, right)
	if len(inter) != 1 || inter[0].ID != 2 {
		t.Fatalf("INTERSECT = %+v, want [{2}]", inter)
	}
	interAgain := applySetOp(SetOpIntersect, left, right)
	if len(interAgain) != len(inter) {
		t.Fatalf("INTERSECT not idempotent")
	}

	except := applySetOp(SetOpExcept, left, right)
	if len(except) != 1 || except[0].ID != 1 {
		t.Fatalf("EXCEPT = %+v, want [{1}]", except)
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	pls, err := payloadlog.Open(dir, obslog.OrNop(nil))
	if err != nil {
		t.Fatalf("payloadlog.Open: %v", err)
	}
	t.Cleanup(func() { pls.Close() })

	props := propindex.NewManager()
	props.AddFieldIndex("category", propindex.KindEquality)
	props.AddFieldIndex("score", propindex.KindRange)
	props.AddFieldIndex("content", propindex.KindTrigram)

	vectors := hnsw.New(hnsw.DefaultConfig(simd.Cosine), 3)
	g := graph.NewStore()

	put := func(id uint64, vec []float32, fields map[string]any) {
		raw, err := json.Marshal(fields)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if err := pls.Put(id, raw); err != nil {
			t.Fatalf("Put: %v", err)
		}
		props.IndexPoint(id, fields)
		if vec != nil {
			if err := vectors.Insert(id, vec, 3); err != nil {
				t.Fatalf("Insert: %v", err)
			}
		}
	}

	put(1, []float32{1, 0, 0}, map[string]any{"category": "tech", "score": 5.0, "content": "the quick brown fox"})
	put(2, []float32{0.9, 0.1, 0}, map[string]any{"category": "food", "score": 9.0, "content": "a lazy dog sleeps"})
	put(3, []float32{0, 1, 0}, map[string]any{"category": "tech", "score": 2.0, "content": "quickening pace"})
	put(5, nil, map[string]any{"category": "food", "score": 1.0, "content": "n/a"})
	put(6, nil, map[string]any{"category": "tech", "score": 4.0, "content": "n/a"})

	for i, edge := range []graph.Edge{
		{Source: 1, Target: 2, Label: "RELATED_TO"},
		{Source: 1, Target: 5, Label: "RELATED_TO"},
		{Source: 2, Target: 5, Label: "RELATED_TO"},
		{Source: 3, Target: 6, Label: "RELATED_TO"},
	} {
		edge.ID = uint64(i + 1)
		if _, err := g.AddEdge(edge); err != nil {
			t.Fatalf("AddEdge: %v", err)
		}
	}

	return &Engine{Vectors: vectors, Payloads: pls, Properties: props, Graph: g}
}

func TestEngineFilteredVectorSearch(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Exec(context.Background(), `SELECT * FROM docs WHERE vector NEAR $q AND category = 'tech' LIMIT 5`,
		Params{"q": []float32{1, 0, 0}})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	for _, row := range res.Rows {
		if row.Fields["category"] != "tech" {
			t.Fatalf("row %d has category %v, want tech", row.ID, row.Fields["category"])
		}
	}
	if len(res.Rows) == 0 {
		t.Fatal("expected at least one tech result")
	}
}

func TestEngineIndexScanEquality(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Exec(context.Background(), `SELECT * FROM docs WHERE category = 'tech'`, nil)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(res.Rows))
	}
}

func TestEngineMatchOneHop(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Exec(context.Background(), `MATCH (a)-[:RELATED_TO]->(b) WHERE a.id = 1 RETURN b`, nil)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("got %d one-hop rows, want 2: %+v", len(res.Rows), res.Rows)
	}
}

func TestEngineInsertThenSelect(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Exec(context.Background(), `INSERT INTO docs (id, category, score) VALUES (4, 'tech', 7)`, nil); err != nil {
		t.Fatalf("Exec insert: %v", err)
	}
	res, err := e.Exec(context.Background(), `SELECT * FROM docs WHERE category = 'tech'`, nil)
	if err != nil {
		t.Fatalf("Exec select: %v", err)
	}
	if len(res.Rows) != 4 {
		t.Fatalf("got %d rows after insert, want 4", len(res.Rows))
	}
}

func TestEngineUpdateMutatesFields(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Exec(context.Background(), `UPDATE docs SET category = 'food' WHERE id = 1`, nil); err != nil {
		t.Fatalf("Exec update: %v", err)
	}
	res, err := e.Exec(context.Background(), `SELECT * FROM docs WHERE category = 'tech'`, nil)
	if err != nil {
		t.Fatalf("Exec select: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("got %d tech rows after update, want 2", len(res.Rows))
	}
}

func TestEngineTrigramLike(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Exec(context.Background(), `SELECT * FROM docs WHERE content LIKE '%quick%'`, nil)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(res.Rows))
	}
}

func TestEngineParallelHybridFusion(t *testing.T) {
	e := newTestEngine(t)
	plan := &HybridParallelPlan{
		Branches: []PlanNode{
			&IndexScanPlan{Field: "category", Kind: propindex.KindEquality,
				Predicate: &BinaryExpr{Left: &ColumnRef{Name: "category"}, Operator: "=", Right: &Literal{Value: "tech"}}},
			&HybridVectorFirstPlan{Vector: &VectorSearchPlan{Column: "vector", Query: &ParamRef{Name: "q"}, K: 3, Ef: 64}},
		},
		Fusion: &FusionClause{Strategy: "rrf", Params: map[string]any{}},
	}
	rows, err := e.run(context.Background(), plan, Params{"q": []float32{1, 0, 0}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rows) == 0 {
		t.Fatal("expected fused rows from parallel branches")
	}
}

func TestEngineContextCancellation(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Exec(ctx, `SELECT * FROM docs WHERE category = 'tech'`, nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestLexUnterminatedString(t *testing.T) {
	if _, err := lex(`SELECT * FROM docs WHERE category = 'tech`); err == nil {
		t.Fatal("expected unterminated string error")
	}
}

func TestParseRejectsTrailingGarbage(t *testing.T) {
	if _, err := Parse(`SELECT * FROM docs EXTRA TOKENS`); err == nil {
		t.Fatal("expected parse error on trailing input")
	}
}

// TestEngineMatchUnanchored exercises an edge-type enumeration with no WHERE
// clause to pin a start node: every edge of the pattern's label becomes one
// (a, b) binding.
func TestEngineMatchUnanchored(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Exec(context.Background(), `MATCH (a)-[:RELATED_TO]->(b) RETURN a, b`, nil)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if len(res.Rows) != 4 {
		t.Fatalf("got %d rows, want 4: %+v", len(res.Rows), res.Rows)
	}
	pairs := map[[2]uint64]bool{}
	for _, row := range res.Rows {
		a, ok := row.Fields["a"].(map[string]any)
		if !ok {
			t.Fatalf("row %+v missing nested `a` binding", row)
		}
		b, ok := row.Fields["b"].(map[string]any)
		if !ok {
			t.Fatalf("row %+v missing nested `b` binding", row)
		}
		pairs[[2]uint64{a["id"].(uint64), b["id"].(uint64)}] = true
	}
	for _, want := range [][2]uint64{{1, 2}, {1, 5}, {2, 5}, {3, 6}} {
		if !pairs[want] {
			t.Fatalf("missing pair %v in %v", want, pairs)
		}
	}
}

func TestEngineGroupByAggregate(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Exec(context.Background(), `SELECT category, COUNT(*), SUM(score), AVG(score) FROM docs GROUP BY category ORDER BY category ASC`, nil)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("got %d groups, want 2: %+v", len(res.Rows), res.Rows)
	}
	for _, row := range res.Rows {
		switch row.Fields["category"] {
		case "food":
			if row.Fields["count"] != float64(2) {
				t.Fatalf("food count = %v, want 2", row.Fields["count"])
			}
			if row.Fields["sum_score"] != 10.0 {
				t.Fatalf("food sum_score = %v, want 10", row.Fields["sum_score"])
			}
		case "tech":
			if row.Fields["count"] != float64(3) {
				t.Fatalf("tech count = %v, want 3", row.Fields["count"])
			}
			if row.Fields["sum_score"] != 11.0 {
				t.Fatalf("tech sum_score = %v, want 11", row.Fields["sum_score"])
			}
		default:
			t.Fatalf("unexpected group %+v", row.Fields)
		}
	}
}

func TestEngineGroupByHaving(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Exec(context.Background(), `SELECT category, COUNT(*) FROM docs GROUP BY category HAVING COUNT(*) > 2`, nil)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0].Fields["category"] != "tech" {
		t.Fatalf("got %+v, want only the tech group", res.Rows)
	}
}

func TestEngineBareAggregateNoGroupBy(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Exec(context.Background(), `SELECT COUNT(*) FROM docs WHERE category = 'tech'`, nil)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0].Fields["count"] != float64(3) {
		t.Fatalf("got %+v, want one row with count=3", res.Rows)
	}
}

func TestEvalInBetweenIsNull(t *testing.T) {
	b := &Binding{ID: 1, Fields: map[string]any{"category": "tech", "score": 5.0}}

	in := &InExpr{Left: &ColumnRef{Name: "category"}, List: []Expression{&Literal{Value: "tech"}, &Literal{Value: "food"}}}
	ok, err := Eval(in, b, nil)
	if err != nil || !ok {
		t.Fatalf("IN = %v, %v; want true, nil", ok, err)
	}

	notIn := &InExpr{Left: &ColumnRef{Name: "category"}, List: []Expression{&Literal{Value: "news"}}, Negate: true}
	ok, err = Eval(notIn, b, nil)
	if err != nil || !ok {
		t.Fatalf("NOT IN = %v, %v; want true, nil", ok, err)
	}

	between := &BetweenExpr{Left: &ColumnRef{Name: "score"}, Low: &Literal{Value: 1.0}, High: &Literal{Value: 10.0}}
	ok, err = Eval(between, b, nil)
	if err != nil || !ok {
		t.Fatalf("BETWEEN = %v, %v; want true, nil", ok, err)
	}

	isNull := &IsNullExpr{Operand: &ColumnRef{Name: "missing"}}
	ok, err = Eval(isNull, b, nil)
	if err != nil || !ok {
		t.Fatalf("IS NULL = %v, %v; want true, nil", ok, err)
	}

	isNotNull := &IsNullExpr{Operand: &ColumnRef{Name: "category"}, Negate: true}
	ok, err = Eval(isNotNull, b, nil)
	if err != nil || !ok {
		t.Fatalf("IS NOT NULL = %v, %v; want true, nil", ok, err)
	}
}

func TestParseInBetweenIsNull(t *testing.T) {
	stmt, err := Parse(`SELECT * FROM docs WHERE category IN ('tech', 'food') AND score BETWEEN 1 AND 10 AND content IS NOT NULL`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sel := stmt.(*SelectStmt)
	conds := flattenAnd(sel.Where)
	var sawIn, sawBetween, sawIsNull bool
	for _, c := range conds {
		switch c.(type) {
		case *InExpr:
			sawIn = true
		case *BetweenExpr:
			sawBetween = true
		case *IsNullExpr:
			sawIsNull = true
		}
	}
	if !sawIn || !sawBetween || !sawIsNull {
		t.Fatalf("expected IN, BETWEEN and IS NOT NULL conjuncts, got %+v", conds)
	}
}

func TestEngineScalarSubquery(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Exec(context.Background(), `SELECT * FROM docs WHERE score > (SELECT AVG(score) FROM docs)`, nil)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	for _, row := range res.Rows {
		if row.ID != 2 && row.ID != 1 {
			t.Fatalf("unexpected row above average: %+v", row)
		}
	}
	if len(res.Rows) == 0 {
		t.Fatal("expected at least one row above the average score")
	}
}

func TestEngineInSubquery(t *testing.T) {
	e := newTestEngine(t)
	res, err := e.Exec(context.Background(),
		`SELECT * FROM docs WHERE id IN (SELECT id FROM docs WHERE category = 'tech')`, nil)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	for _, row := range res.Rows {
		if row.Fields["category"] != "tech" {
			t.Fatalf("row %+v leaked a non-tech id from the IN-subquery", row)
		}
	}
	if len(res.Rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(res.Rows))
	}
}

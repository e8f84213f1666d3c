package query

import (
	"github.com/velesdb/velesdb/internal/verror"
	"github.com/velesdb/velesdb/pkg/propindex"
)

// PlanNode is one node of the small cost-based plan tree spec §6 describes:
// scans and vector/graph searches at the leaves, hybrid combinators above
// them, fused at the root when a FUSION clause is present.
type PlanNode interface {
	planMarker()
}

// SeqScanPlan walks every point in the collection, applying Filter.
type SeqScanPlan struct {
	Table  string
	Filter Expression
}

func (p *SeqScanPlan) planMarker() {}

// IndexScanPlan narrows to a property index's posting list before applying
// any residual Filter.
type IndexScanPlan struct {
	Table     string
	Field     string
	Kind      propindex.Kind
	Predicate *BinaryExpr
	Filter    Expression
}

func (p *IndexScanPlan) planMarker() {}

// VectorSearchPlan runs an ANN search for the top K nearest neighbors of a
// query vector.
type VectorSearchPlan struct {
	Column string
	Query  Expression
	K      int
	Ef     int
	Filter Expression
}

func (p *VectorSearchPlan) planMarker() {}

// GraphSearchPlan evaluates a MATCH pattern via BFS traversal.
type GraphSearchPlan struct {
	Pattern PatternElement
	Filter  Expression
}

func (p *GraphSearchPlan) planMarker() {}

// HybridVectorFirstPlan runs the vector search, then applies the residual
// property filter over its candidates (spec §8 scenario 2: filtered search).
type HybridVectorFirstPlan struct {
	Vector     *VectorSearchPlan
	PostFilter Expression
}

func (p *HybridVectorFirstPlan) planMarker() {}

// HybridGraphFirstPlan runs the graph traversal first, then filters the
// resulting node set by payload predicate.
type HybridGraphFirstPlan struct {
	Graph      *GraphSearchPlan
	PostFilter Expression
}

func (p *HybridGraphFirstPlan) planMarker() {}

// HybridParallelPlan runs independent branches concurrently and fuses their
// ranked result lists.
type HybridParallelPlan struct {
	Branches []PlanNode
	Fusion   *FusionClause
}

func (p *HybridParallelPlan) planMarker() {}

// FusedVectorSearchPlan is a vector search whose scores are combined with a
// named fusion strategy against a single other ranked source (itself,
// re-ranked — or a second NEAR clause in a future grammar extension).
type FusedVectorSearchPlan struct {
	Vector *VectorSearchPlan
	Fusion *FusionClause
}

func (p *FusedVectorSearchPlan) planMarker() {}

// SetOpPlan evaluates Left and Right independently and combines their id
// sets per Op.
type SetOpPlan struct {
	Op    SetOp
	Left  PlanNode
	Right PlanNode
}

func (p *SetOpPlan) planMarker() {}

// InsertPlan and UpdatePlan are DML passthroughs; the executor applies them
// directly against the collection rather than producing a row stream.
type InsertPlan struct{ Stmt *InsertStmt }

func (p *InsertPlan) planMarker() {}

type UpdatePlan struct{ Stmt *UpdateStmt }

func (p *UpdatePlan) planMarker() {}

const defaultEf = 64

// Plan compiles a parsed Statement into a PlanNode. params is consulted so
// bound parameter values can drive plan selection (e.g. deciding whether a
// predicate is index-amenable).
func Plan(stmt Statement, params Params) (PlanNode, error) {
	switch s := stmt.(type) {
	case *SelectStmt:
		return planSelect(s, params)
	case *SetOpStmt:
		left, err := planSelect(s.Left, params)
		if err != nil {
			return nil, err
		}
		right, err := planSelect(s.Right, params)
		if err != nil {
			return nil, err
		}
		return &SetOpPlan{Op: s.Op, Left: left, Right: right}, nil
	case *MatchStmt:
		return planMatch(s)
	case *InsertStmt:
		return &InsertPlan{Stmt: s}, nil
	case *UpdateStmt:
		return &UpdatePlan{Stmt: s}, nil
	default:
		return nil, verror.New("query.Plan", verror.KindPlan, "unsupported statement type")
	}
}

func planSelect(s *SelectStmt, params Params) (PlanNode, error) {
	conjuncts := flattenAnd(s.Where)

	var near *VectorNear
	var nonNear []Expression
	for _, c := range conjuncts {
		if vn, ok := c.(*VectorNear); ok && near == nil {
			near = vn
			continue
		}
		nonNear = append(nonNear, c)
	}

	k := 10
	if s.HasLimit && s.Limit > 0 {
		k = s.Limit
	}

	// A NEAR predicate always routes through the vector index; every other
	// conjunct becomes a post-filter rather than a candidate index scan,
	// since there is only one ranked source to narrow here.
	if near != nil {
		vp := &VectorSearchPlan{Column: near.Column, Query: near.Query, K: k, Ef: defaultEf}
		if s.Fusion != nil {
			return &FusedVectorSearchPlan{Vector: vp, Fusion: s.Fusion}, nil
		}
		return &HybridVectorFirstPlan{Vector: vp, PostFilter: rebuildAnd(nonNear)}, nil
	}

	var indexable *BinaryExpr
	var indexField string
	var indexKind propindex.Kind
	var rest []Expression
	for _, c := range nonNear {
		if be, ok := c.(*BinaryExpr); ok && indexable == nil {
			if field, kind, ok := indexableOperand(be); ok {
				indexable = be
				indexField = field
				indexKind = kind
				continue
			}
		}
		rest = append(rest, c)
	}

	if indexable != nil {
		// The index narrows candidates but an index scan's own predicate is
		// re-checked alongside any residual filter: RangeIndex.Range is
		// inclusive on both bounds and trigram matching is a cardinality
		// prefilter, so exact operator semantics (e.g. strict `<`) still
		// need confirming against the decoded payload.
		exact := append([]Expression{indexable}, rest...)
		return &IndexScanPlan{Table: s.From, Field: indexField, Kind: indexKind, Predicate: indexable, Filter: rebuildAnd(exact)}, nil
	}

	return &SeqScanPlan{Table: s.From, Filter: s.Where}, nil
}

// planMatch builds a graph traversal plan. The `<fromVar>.id = …` conjunct
// that anchors the traversal's start node is consumed during execution
// (see resolveStartNode) rather than re-applied as a row filter — left in
// place it would reject every result node, whose id is never the start id.
func planMatch(s *MatchStmt) (PlanNode, error) {
	gp := &GraphSearchPlan{Pattern: s.Pattern, Filter: s.Where}

	var residual []Expression
	for _, c := range flattenAnd(s.Where) {
		if be, ok := c.(*BinaryExpr); ok && be.Operator == "=" && isStartAnchor(be, s.Pattern.FromVar) {
			continue
		}
		residual = append(residual, c)
	}
	filter := rebuildAnd(residual)
	if filter == nil {
		return gp, nil
	}
	return &HybridGraphFirstPlan{Graph: gp, PostFilter: filter}, nil
}

func isStartAnchor(be *BinaryExpr, fromVar string) bool {
	col := asColumnExpr(be.Left)
	if col == "" {
		col = asColumnExpr(be.Right)
	}
	return col == fromVar+".id" || col == "id"
}

// indexableOperand reports whether be is of the shape `column OP literal`
// (or the reverse), returning the field name and the index kind its
// operator implies.
func indexableOperand(be *BinaryExpr) (field string, kind propindex.Kind, ok bool) {
	col, lit := asColumnLiteral(be.Left, be.Right)
	if col == "" {
		col, lit = asColumnLiteral(be.Right, be.Left)
	}
	if col == "" {
		return "", 0, false
	}
	switch be.Operator {
	case "=":
		return col, propindex.KindEquality, true
	case "<", "<=", ">", ">=":
		return col, propindex.KindRange, true
	case "LIKE", "ILIKE":
		if _, isStr := lit.(string); isStr {
			return col, propindex.KindTrigram, true
		}
	}
	return "", 0, false
}

func asColumnLiteral(a, b Expression) (string, any) {
	col, ok := a.(*ColumnRef)
	if !ok {
		return "", nil
	}
	lit, ok := b.(*Literal)
	if !ok {
		return "", nil
	}
	return col.Name, lit.Value
}

func flattenAnd(e Expression) []Expression {
	if e == nil {
		return nil
	}
	if be, ok := e.(*BinaryExpr); ok && be.Operator == "AND" {
		return append(flattenAnd(be.Left), flattenAnd(be.Right)...)
	}
	return []Expression{e}
}

func rebuildAnd(exprs []Expression) Expression {
	if len(exprs) == 0 {
		return nil
	}
	out := exprs[0]
	for _, e := range exprs[1:] {
		out = &BinaryExpr{Left: out, Operator: "AND", Right: e}
	}
	return out
}

package rules

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/penserai/acteon/pkg/acteon"
)

// Expr is one node of the typed expression tree.
type Expr interface {
	Eval(ec *EvalContext) (Value, error)
}

// --- Literals ---

type Lit struct{ V Value }

func (e Lit) Eval(*EvalContext) (Value, error) { return e.V, nil }

type ListLit struct{ Items []Expr }

func (e ListLit) Eval(ec *EvalContext) (Value, error) {
	vals := make([]Value, len(e.Items))
	for i, item := range e.Items {
		v, err := item.Eval(ec)
		if err != nil {
			return Value{}, err
		}
		vals[i] = v
	}
	return List(vals), nil
}

// --- Identifiers and field access ---

type Ident struct{ Name string }

func (e Ident) Eval(ec *EvalContext) (Value, error) {
	switch e.Name {
	case "action":
		return ec.actionValue(), nil
	case "env":
		return ec.envValue(), nil
	case "time":
		return ec.timeMapValue()
	default:
		if v, ok := ec.Env[e.Name]; ok {
			return FromAny(v), nil
		}
		return Value{}, fmt.Errorf("%w: %s", acteonErrUnknownIdentifier, e.Name)
	}
}

// Field performs one dotted-traversal step into a Map; a missing key
// resolves silently to Null so downstream comparisons degrade to false.
type Field struct {
	Base Expr
	Name string
}

func (e Field) Eval(ec *EvalContext) (Value, error) {
	base, err := e.Base.Eval(ec)
	if err != nil {
		return Value{}, err
	}
	if base.Kind != KindMap {
		return Null(), nil
	}
	v, ok := base.M[e.Name]
	if !ok {
		return Null(), nil
	}
	return v, nil
}

// Index indexes into a List or Map.
type Index struct {
	Seq Expr
	Idx Expr
}

func (e Index) Eval(ec *EvalContext) (Value, error) {
	seq, err := e.Seq.Eval(ec)
	if err != nil {
		return Value{}, err
	}
	idx, err := e.Idx.Eval(ec)
	if err != nil {
		return Value{}, err
	}
	switch seq.Kind {
	case KindList:
		if idx.Kind != KindInt {
			return Value{}, fmt.Errorf("%w: list index must be int", acteonErrTypeMismatch)
		}
		if idx.I < 0 || int(idx.I) >= len(seq.L) {
			return Null(), nil
		}
		return seq.L[idx.I], nil
	case KindMap:
		if idx.Kind != KindString {
			return Value{}, fmt.Errorf("%w: map index must be string", acteonErrTypeMismatch)
		}
		v, ok := seq.M[idx.S]
		if !ok {
			return Null(), nil
		}
		return v, nil
	default:
		return Null(), nil
	}
}

// --- Unary ---

type UnaryOp string

const (
	UnaryNot UnaryOp = "not"
	UnaryNeg UnaryOp = "neg"
)

type Unary struct {
	Op UnaryOp
	X  Expr
}

func (e Unary) Eval(ec *EvalContext) (Value, error) {
	v, err := e.X.Eval(ec)
	if err != nil {
		return Value{}, err
	}
	switch e.Op {
	case UnaryNot:
		return Bool(!v.Truthy()), nil
	case UnaryNeg:
		if !v.IsNumeric() {
			return Value{}, fmt.Errorf("%w: neg requires a number", acteonErrTypeMismatch)
		}
		if v.Kind == KindInt {
			return Int(-v.I), nil
		}
		return Float(-v.F), nil
	default:
		return Value{}, fmt.Errorf("unknown unary op %q", e.Op)
	}
}

// --- Binary ---

type BinaryOp string

const (
	OpAdd        BinaryOp = "add"
	OpSub        BinaryOp = "sub"
	OpMul        BinaryOp = "mul"
	OpDiv        BinaryOp = "div"
	OpMod        BinaryOp = "mod"
	OpEq         BinaryOp = "eq"
	OpNe         BinaryOp = "ne"
	OpLt         BinaryOp = "lt"
	OpLe         BinaryOp = "le"
	OpGt         BinaryOp = "gt"
	OpGe         BinaryOp = "ge"
	OpAnd        BinaryOp = "and"
	OpOr         BinaryOp = "or"
	OpContains   BinaryOp = "contains"
	OpStartsWith BinaryOp = "starts_with"
	OpEndsWith   BinaryOp = "ends_with"
	OpMatches    BinaryOp = "matches"
	OpIn         BinaryOp = "in"
)

type Binary struct {
	Op   BinaryOp
	L, R Expr
}

func (e Binary) Eval(ec *EvalContext) (Value, error) {
	// And/Or short-circuit, so the right operand is evaluated lazily.
	if e.Op == OpAnd || e.Op == OpOr {
		l, err := e.L.Eval(ec)
		if err != nil {
			return Value{}, err
		}
		if e.Op == OpAnd && !l.Truthy() {
			return Bool(false), nil
		}
		if e.Op == OpOr && l.Truthy() {
			return Bool(true), nil
		}
		r, err := e.R.Eval(ec)
		if err != nil {
			return Value{}, err
		}
		return Bool(r.Truthy()), nil
	}

	l, err := e.L.Eval(ec)
	if err != nil {
		return Value{}, err
	}
	r, err := e.R.Eval(ec)
	if err != nil {
		return Value{}, err
	}

	switch e.Op {
	case OpAdd:
		return evalAdd(l, r)
	case OpSub, OpMul, OpDiv, OpMod:
		return evalArith(e.Op, l, r)
	case OpEq:
		return Bool(Equal(l, r)), nil
	case OpNe:
		return Bool(!Equal(l, r)), nil
	case OpLt, OpLe, OpGt, OpGe:
		return evalCompare(e.Op, l, r)
	case OpContains:
		return evalContains(l, r)
	case OpStartsWith:
		return Bool(strings.HasPrefix(l.S, r.S)), nil
	case OpEndsWith:
		return Bool(strings.HasSuffix(l.S, r.S)), nil
	case OpMatches:
		re, err := regexp.Compile(r.S)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", acteonErrRegexCompile, err)
		}
		return Bool(re.MatchString(l.S)), nil
	case OpIn:
		return evalIn(l, r)
	default:
		return Value{}, fmt.Errorf("unknown binary op %q", e.Op)
	}
}

func evalAdd(l, r Value) (Value, error) {
	if l.Kind == KindString || r.Kind == KindString {
		return String(l.String() + r.String()), nil
	}
	return evalArith(OpAdd, l, r)
}

func evalArith(op BinaryOp, l, r Value) (Value, error) {
	if !l.IsNumeric() || !r.IsNumeric() {
		return Value{}, fmt.Errorf("%w: arithmetic requires numbers", acteonErrTypeMismatch)
	}
	// mixed int/float promotes to float.
	if l.Kind == KindInt && r.Kind == KindInt {
		li, ri := l.I, r.I
		switch op {
		case OpAdd:
			return Int(li + ri), nil
		case OpSub:
			return Int(li - ri), nil
		case OpMul:
			return Int(li * ri), nil
		case OpDiv:
			if ri == 0 {
				return Value{}, acteonErrDivByZero
			}
			return Int(li / ri), nil
		case OpMod:
			if ri == 0 {
				return Value{}, acteonErrDivByZero
			}
			return Int(li % ri), nil
		}
	}
	lf, rf := l.AsFloat(), r.AsFloat()
	switch op {
	case OpAdd:
		return Float(lf + rf), nil
	case OpSub:
		return Float(lf - rf), nil
	case OpMul:
		return Float(lf * rf), nil
	case OpDiv:
		if rf == 0 {
			return Value{}, acteonErrDivByZero
		}
		return Float(lf / rf), nil
	case OpMod:
		if rf == 0 {
			return Value{}, acteonErrDivByZero
		}
		return Float(math.Mod(lf, rf)), nil
	}
	return Value{}, fmt.Errorf("unsupported arithmetic op %q", op)
}

// evalCompare: numbers compare numerically (NaN → false per spec.md §9),
// strings compare lexicographically, and a type mismatch is false.
func evalCompare(op BinaryOp, l, r Value) (Value, error) {
	var less, equal bool
	switch {
	case l.IsNumeric() && r.IsNumeric():
		lf, rf := l.AsFloat(), r.AsFloat()
		if math.IsNaN(lf) || math.IsNaN(rf) {
			return Bool(false), nil
		}
		less, equal = lf < rf, lf == rf
	case l.Kind == KindString && r.Kind == KindString:
		less, equal = l.S < r.S, l.S == r.S
	default:
		return Bool(false), nil
	}
	switch op {
	case OpLt:
		return Bool(less), nil
	case OpLe:
		return Bool(less || equal), nil
	case OpGt:
		return Bool(!less && !equal), nil
	case OpGe:
		return Bool(!less), nil
	}
	return Bool(false), nil
}

// evalContains is substring-of-string only, per spec.md §9.
func evalContains(l, r Value) (Value, error) {
	if l.Kind != KindString || r.Kind != KindString {
		return Bool(false), nil
	}
	return Bool(strings.Contains(l.S, r.S)), nil
}

// evalIn: membership in a list, or substring-in-string.
func evalIn(l, r Value) (Value, error) {
	switch r.Kind {
	case KindList:
		for _, item := range r.L {
			if Equal(l, item) {
				return Bool(true), nil
			}
		}
		return Bool(false), nil
	case KindString:
		if l.Kind != KindString {
			return Bool(false), nil
		}
		return Bool(strings.Contains(r.S, l.S)), nil
	default:
		return Bool(false), nil
	}
}

// --- Variadic short-circuit conjunction/disjunction ---

type All struct{ Exprs []Expr }

func (e All) Eval(ec *EvalContext) (Value, error) {
	for _, x := range e.Exprs {
		v, err := x.Eval(ec)
		if err != nil {
			return Value{}, err
		}
		if !v.Truthy() {
			return Bool(false), nil
		}
	}
	return Bool(true), nil
}

type Any struct{ Exprs []Expr }

func (e Any) Eval(ec *EvalContext) (Value, error) {
	for _, x := range e.Exprs {
		v, err := x.Eval(ec)
		if err != nil {
			return Value{}, err
		}
		if v.Truthy() {
			return Bool(true), nil
		}
	}
	return Bool(false), nil
}

// --- Ternary ---

type Ternary struct {
	Cond, Then, Else Expr
}

func (e Ternary) Eval(ec *EvalContext) (Value, error) {
	c, err := e.Cond.Eval(ec)
	if err != nil {
		return Value{}, err
	}
	if c.Truthy() {
		return e.Then.Eval(ec)
	}
	return e.Else.Eval(ec)
}

// --- Built-in calls ---

type Call struct {
	Name string
	Args []Expr
}

func (e Call) Eval(ec *EvalContext) (Value, error) {
	args := make([]Value, len(e.Args))
	for i, a := range e.Args {
		v, err := a.Eval(ec)
		if err != nil {
			return Value{}, err
		}
		args[i] = v
	}
	switch e.Name {
	case "len":
		if len(args) != 1 {
			return Value{}, fmt.Errorf("len() takes exactly one argument")
		}
		switch args[0].Kind {
		case KindString:
			return Int(int64(len(args[0].S))), nil
		case KindList:
			return Int(int64(len(args[0].L))), nil
		case KindMap:
			return Int(int64(len(args[0].M))), nil
		default:
			return Int(0), nil
		}
	case "upper":
		return String(strings.ToUpper(args[0].S)), nil
	case "lower":
		return String(strings.ToLower(args[0].S)), nil
	case "trim":
		return String(strings.TrimSpace(args[0].S)), nil
	case "str":
		return String(args[0].String()), nil
	case "int":
		return callToInt(args[0])
	default:
		return Value{}, fmt.Errorf("unknown built-in function %q", e.Name)
	}
}

func callToInt(v Value) (Value, error) {
	switch v.Kind {
	case KindInt:
		return v, nil
	case KindFloat:
		return Int(int64(v.F)), nil
	case KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.S), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: cannot convert %q to int", acteonErrTypeMismatch, v.S)
		}
		return Int(n), nil
	default:
		return Value{}, fmt.Errorf("%w: cannot convert to int", acteonErrTypeMismatch)
	}
}

// --- State-referencing expressions ---

type StateGet struct{ ID Expr }

func (e StateGet) Eval(ec *EvalContext) (Value, error) {
	id, err := e.ID.Eval(ec)
	if err != nil {
		return Value{}, err
	}
	v, ok, err := ec.Store.Get(ec.Ctx, ec.stateKey(acteon.KindState, id.S))
	if err != nil {
		return Value{}, err
	}
	if !ok {
		return Null(), nil
	}
	return String(v), nil
}

type StateCounter struct{ ID Expr }

func (e StateCounter) Eval(ec *EvalContext) (Value, error) {
	id, err := e.ID.Eval(ec)
	if err != nil {
		return Value{}, err
	}
	v, ok, err := ec.Store.Get(ec.Ctx, ec.stateKey(acteon.KindCounter, id.S))
	if err != nil {
		return Value{}, err
	}
	if !ok {
		return Int(0), nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return Int(0), nil
	}
	return Int(n), nil
}

// StateTimeSince returns seconds since the RFC3339 timestamp stored at
// the id's State key; a missing key evaluates to math.MaxInt64 so "time
// since" comparisons for never-seen events read as "very long ago".
type StateTimeSince struct{ ID Expr }

func (e StateTimeSince) Eval(ec *EvalContext) (Value, error) {
	id, err := e.ID.Eval(ec)
	if err != nil {
		return Value{}, err
	}
	v, ok, err := ec.Store.Get(ec.Ctx, ec.stateKey(acteon.KindState, id.S))
	if err != nil {
		return Value{}, err
	}
	if !ok {
		return Int(math.MaxInt64), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return Int(math.MaxInt64), nil
	}
	return Int(int64(ec.now().Sub(t).Seconds())), nil
}

// SemanticMatch computes cosine similarity between the resolved text and
// Topic using the attached EmbeddingProvider.
type SemanticMatch struct {
	Topic     Expr
	Threshold Expr
	TextField Expr // optional; defaults to action.payload.text
}

func (e SemanticMatch) Eval(ec *EvalContext) (Value, error) {
	if ec.Embedding == nil {
		return Value{}, acteonErrNoEmbeddingProvider
	}
	topic, err := e.Topic.Eval(ec)
	if err != nil {
		return Value{}, err
	}
	threshold, err := e.Threshold.Eval(ec)
	if err != nil {
		return Value{}, err
	}

	var text Value
	if e.TextField != nil {
		text, err = e.TextField.Eval(ec)
		if err != nil {
			return Value{}, err
		}
	} else {
		text, err = (Field{Base: Field{Base: Ident{"action"}, Name: "payload"}, Name: "text"}).Eval(ec)
		if err != nil {
			return Value{}, err
		}
	}
	if text.Kind != KindString || text.S == "" {
		return Bool(false), nil
	}

	textVec, err := ec.Embedding.Embed(ec.Ctx, text.S)
	if err != nil {
		return Value{}, err
	}
	topicVec, err := ec.Embedding.Embed(ec.Ctx, topic.S)
	if err != nil {
		return Value{}, err
	}

	sim := cosineSimilarity(textVec, topicVec)
	return Bool(sim >= threshold.AsFloat()), nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

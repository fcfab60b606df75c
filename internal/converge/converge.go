// Package converge decides when a feedback loop has refined its output
// enough to stop. Edges may carry a Lua convergence expression; without
// one the quality threshold alone decides.
package converge

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/Shopify/go-lua"

	"github.com/kode4food/vigil/pkg/api"
	"github.com/kode4food/vigil/pkg/util"
)

type (
	// Evaluator runs convergence expressions with state pooling and a
	// bytecode cache keyed by the expression's content hash
	Evaluator struct {
		cache     *util.LRUCache[*compiledCriteria]
		statePool chan *lua.State
	}

	compiledCriteria struct {
		bytecode []byte
	}
)

const (
	criteriaCacheSize = 4096
	statePoolSize     = 10

	globalTableIndex = -2
	globalTableName  = "_G"

	argLocalTemplate = "local %s = select(%d, ...)"
	criteriaTemplate = "return (%s)"
	separator        = "\n"
)

// criteriaArgs are the locals visible to a convergence expression, in
// the order they are pushed onto the Lua stack
var criteriaArgs = [...]string{
	"score", "iteration", "max_iterations", "threshold",
}

var (
	ErrCriteriaLoad      = errors.New("criteria load error")
	ErrCriteriaExecution = errors.New("criteria execution error")
)

var luaExclude = [...]string{
	"io", "os", "debug", "package", "require", "dofile", "loadfile", "load",
}

// NewEvaluator creates a convergence evaluator with a state pool for
// efficient expression reuse
func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache:     util.NewLRUCache[*compiledCriteria](criteriaCacheSize),
		statePool: make(chan *lua.State, statePoolSize),
	}
}

// Converged reports whether the loop should stop after an iteration
// that scored the given quality. With no expression configured, a score
// at or above the edge's quality threshold converges the loop
func (e *Evaluator) Converged(
	meta *api.EdgeMetadata, score float64, iteration int,
) (bool, error) {
	if strings.TrimSpace(meta.ConvergenceCriteria) == "" {
		return score >= meta.QualityThreshold, nil
	}

	proc, err := e.compiled(meta.ConvergenceCriteria)
	if err != nil {
		return false, err
	}
	return e.evaluate(proc, score, iteration, meta)
}

// Validate compiles an expression to check it for syntax errors without
// running it
func (e *Evaluator) Validate(criteria string) error {
	if strings.TrimSpace(criteria) == "" {
		return nil
	}
	_, err := e.compiled(criteria)
	return err
}

func (e *Evaluator) compiled(criteria string) (*compiledCriteria, error) {
	sum := sha256.Sum256([]byte(criteria))
	key := hex.EncodeToString(sum[:])
	return e.cache.Get(key, func() (*compiledCriteria, error) {
		return e.compile(criteria)
	})
}

func (e *Evaluator) compile(criteria string) (*compiledCriteria, error) {
	L := lua.NewState()
	e.setupSandbox(L)

	src := wrapCriteria(criteria)
	if err := lua.LoadString(L, src); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCriteriaLoad, err)
	}

	var buf bytes.Buffer
	if err := L.Dump(&buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCriteriaLoad, err)
	}

	return &compiledCriteria{
		bytecode: buf.Bytes(),
	}, nil
}

func wrapCriteria(criteria string) string {
	argLocals := make([]string, len(criteriaArgs))
	for i, name := range criteriaArgs {
		argLocals[i] = fmt.Sprintf(argLocalTemplate, name, i+1)
	}
	return strings.Join([]string{
		strings.Join(argLocals, separator),
		fmt.Sprintf(criteriaTemplate, criteria),
	}, separator)
}

func (e *Evaluator) evaluate(
	proc *compiledCriteria, score float64, iteration int,
	meta *api.EdgeMetadata,
) (bool, error) {
	L := e.getState()
	defer e.returnState(L)

	e.setupSandbox(L)
	if err := L.Load(
		bytes.NewReader(proc.bytecode), "criteria", "b",
	); err != nil {
		return false, fmt.Errorf("%w: %w", ErrCriteriaLoad, err)
	}

	L.PushNumber(score)
	L.PushInteger(iteration)
	L.PushInteger(meta.MaxIterations)
	L.PushNumber(meta.QualityThreshold)

	if err := L.ProtectedCall(len(criteriaArgs), 1, 0); err != nil {
		return false, fmt.Errorf("%w: %w", ErrCriteriaExecution, err)
	}

	result := L.ToBoolean(-1)
	L.Pop(1)
	return result, nil
}

func (e *Evaluator) setupSandbox(L *lua.State) {
	lua.OpenLibraries(L)
	L.Global(globalTableName)
	for _, name := range luaExclude {
		L.PushNil()
		L.SetField(globalTableIndex, name)
	}
	L.Pop(1)
}

func (e *Evaluator) getState() *lua.State {
	select {
	case L := <-e.statePool:
		return L
	default:
		return lua.NewState()
	}
}

func (e *Evaluator) returnState(L *lua.State) {
	L.SetTop(0)

	select {
	case e.statePool <- L:
	default:
	}
}

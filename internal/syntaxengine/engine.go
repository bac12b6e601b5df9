// Package syntaxengine implements the tree-sitter-backed ports.Engine,
// the only concrete parser the syntax manager drives in production.
// Grounded on vjache-cie's TreeSitterParser: one sync.Pool per language so
// sitter.Parser instances (not safe for concurrent reuse) are recycled
// across calls, with each pool created exactly once per language id.
package syntaxengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/loomcode/loom/internal/ports"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// tree wraps a parsed *sitter.Tree with the byte range it covers, so the
// scheduler can decide viewport coverage without knowing tree-sitter's API.
type tree struct {
	t          *sitter.Tree
	languageID string
	start, end int
}

func (t *tree) ByteRange() (int, int) { return t.start, t.end }

// unwrap recovers this engine's own wrapper from a ports.SyntaxTree, for
// use as the base of an incremental parse. Returns nil if base was
// produced by a different engine or is nil (first parse).
func unwrap(base ports.SyntaxTree) *tree {
	t, ok := base.(*tree)
	if !ok || t == nil {
		return nil
	}
	return t
}

// DefaultLoader is the ports.LanguageLoader backing the bundled grammars:
// Go, Python, JavaScript, TypeScript, keyed by the same language ids the
// scheduler and configuration use.
type DefaultLoader struct{}

func (DefaultLoader) Load(languageID string) (any, error) {
	switch languageID {
	case "go":
		return golang.GetLanguage(), nil
	case "python":
		return python.GetLanguage(), nil
	case "javascript":
		return javascript.GetLanguage(), nil
	case "typescript":
		return typescript.GetLanguage(), nil
	default:
		return nil, fmt.Errorf("syntaxengine: unsupported language %q", languageID)
	}
}

// Engine is the tree-sitter ports.Engine adapter. It holds one sync.Pool
// of *sitter.Parser per language id, created on first use via the caller-
// supplied ports.LanguageLoader.
type Engine struct {
	mu    sync.Mutex
	pools map[string]*sync.Pool
}

// New constructs a tree-sitter Engine.
func New() *Engine {
	return &Engine{pools: make(map[string]*sync.Pool)}
}

func (e *Engine) poolFor(languageID string, ld ports.LanguageLoader) (*sync.Pool, error) {
	e.mu.Lock()
	pool, ok := e.pools[languageID]
	e.mu.Unlock()
	if ok {
		return pool, nil
	}

	handle, err := ld.Load(languageID)
	if err != nil {
		return nil, err
	}
	lang, ok := handle.(*sitter.Language)
	if !ok {
		return nil, fmt.Errorf("syntaxengine: loader returned non-grammar handle for %q", languageID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if pool, ok := e.pools[languageID]; ok {
		return pool, nil
	}
	pool = &sync.Pool{New: func() any {
		p := sitter.NewParser()
		p.SetLanguage(lang)
		return p
	}}
	e.pools[languageID] = pool
	return pool, nil
}

func (e *Engine) borrow(languageID string, ld ports.LanguageLoader) (*sitter.Parser, *sync.Pool, error) {
	pool, err := e.poolFor(languageID, ld)
	if err != nil {
		return nil, nil, err
	}
	p, ok := pool.Get().(*sitter.Parser)
	if !ok {
		return nil, nil, fmt.Errorf("syntaxengine: invalid parser type in %q pool", languageID)
	}
	return p, pool, nil
}

// Parse implements ports.Engine.
func (e *Engine) Parse(ctx context.Context, source string, languageID string, ld ports.LanguageLoader, _ ports.ParseOptions) (ports.SyntaxTree, *ports.SyntaxError) {
	p, pool, err := e.borrow(languageID, ld)
	if err != nil {
		return nil, &ports.SyntaxError{Err: err}
	}
	defer pool.Put(p)

	t, perr := p.ParseCtx(ctx, nil, []byte(source))
	if perr != nil {
		return nil, classify(ctx, perr)
	}
	return &tree{t: t, languageID: languageID, start: 0, end: len(source)}, nil
}

// ParseViewport implements ports.Engine: it parses the already-sealed
// window in isolation (no incremental base), labelling the result's byte
// range by baseOffset so coverage checks operate in full-document
// coordinates.
func (e *Engine) ParseViewport(ctx context.Context, window string, languageID string, ld ports.LanguageLoader, _ ports.ParseOptions, baseOffset int) (ports.SyntaxTree, *ports.SyntaxError) {
	p, pool, err := e.borrow(languageID, ld)
	if err != nil {
		return nil, &ports.SyntaxError{Err: err}
	}
	defer pool.Put(p)

	t, perr := p.ParseCtx(ctx, nil, []byte(window))
	if perr != nil {
		return nil, classify(ctx, perr)
	}
	return &tree{t: t, languageID: languageID, start: baseOffset, end: baseOffset + len(window)}, nil
}

// Incremental implements ports.Engine. The base tree carries the language
// it was parsed with; changes must be a []sitter.EditInput (the ChangeSet
// type is opaque to the scheduler) and is applied to the base tree before
// the incremental reparse, per tree-sitter's edit-then-reparse protocol.
func (e *Engine) Incremental(ctx context.Context, base ports.SyntaxTree, _ string, newSource string, changes ports.ChangeSet, ld ports.LanguageLoader, _ ports.ParseOptions) (ports.SyntaxTree, *ports.SyntaxError) {
	baseTree := unwrap(base)
	if baseTree == nil {
		return nil, &ports.SyntaxError{Err: fmt.Errorf("syntaxengine: Incremental requires a base tree produced by this engine")}
	}

	p, pool, err := e.borrow(baseTree.languageID, ld)
	if err != nil {
		return nil, &ports.SyntaxError{Err: err}
	}
	defer pool.Put(p)

	if edits, ok := changes.([]sitter.EditInput); ok {
		for _, edit := range edits {
			baseTree.t.Edit(edit)
		}
	}

	t, perr := p.ParseCtx(ctx, baseTree.t, []byte(newSource))
	if perr != nil {
		return nil, classify(ctx, perr)
	}
	return &tree{t: t, languageID: baseTree.languageID, start: 0, end: len(newSource)}, nil
}

func classify(ctx context.Context, err error) *ports.SyntaxError {
	if ctx.Err() != nil {
		return &ports.SyntaxError{Timeout: true, Err: ctx.Err()}
	}
	return &ports.SyntaxError{Err: err}
}

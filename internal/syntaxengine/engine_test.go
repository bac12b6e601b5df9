package syntaxengine

import (
	"context"
	"strings"
	"testing"

	"github.com/loomcode/loom/internal/ports"
	sitter "github.com/smacker/go-tree-sitter"
)

const sampleGo = `package main

func add(a, b int) int {
	return a + b
}
`

func TestParseProducesFullRangeTree(t *testing.T) {
	e := New()
	st, perr := e.Parse(context.Background(), sampleGo, "go", DefaultLoader{}, ports.ParseOptions{})
	if perr != nil {
		t.Fatalf("unexpected parse error: %v", perr)
	}
	start, end := st.ByteRange()
	if start != 0 || end != len(sampleGo) {
		t.Fatalf("expected range [0,%d), got [%d,%d)", len(sampleGo), start, end)
	}
}

func TestParseUnsupportedLanguage(t *testing.T) {
	e := New()
	_, perr := e.Parse(context.Background(), sampleGo, "cobol", DefaultLoader{}, ports.ParseOptions{})
	if perr == nil {
		t.Fatalf("expected an error for an unsupported language")
	}
	if perr.Timeout {
		t.Fatalf("unsupported-language failure must not be classified as a timeout")
	}
}

func TestIncrementalRequiresOwnBaseTree(t *testing.T) {
	e := New()
	_, perr := e.Incremental(context.Background(), nil, sampleGo, sampleGo+"\n", nil, DefaultLoader{}, ports.ParseOptions{})
	if perr == nil {
		t.Fatalf("expected an error when base is not a tree produced by this engine")
	}
}

func TestIncrementalReparsesAfterEdit(t *testing.T) {
	e := New()
	base, perr := e.Parse(context.Background(), sampleGo, "go", DefaultLoader{}, ports.ParseOptions{})
	if perr != nil {
		t.Fatalf("unexpected parse error: %v", perr)
	}

	appended := sampleGo + "\nfunc sub(a, b int) int { return a - b }\n"
	edit := []sitter.EditInput{{
		StartIndex:  uint32(len(sampleGo)),
		OldEndIndex: uint32(len(sampleGo)),
		NewEndIndex: uint32(len(appended)),
	}}

	next, perr := e.Incremental(context.Background(), base, sampleGo, appended, edit, DefaultLoader{}, ports.ParseOptions{})
	if perr != nil {
		t.Fatalf("unexpected incremental parse error: %v", perr)
	}
	start, end := next.ByteRange()
	if start != 0 || end != len(appended) {
		t.Fatalf("expected range [0,%d), got [%d,%d)", len(appended), start, end)
	}
}

func TestDefaultLoaderRejectsUnknownLanguage(t *testing.T) {
	_, err := DefaultLoader{}.Load("cobol")
	if err == nil {
		t.Fatalf("expected an error for an unknown language id")
	}
	if !strings.Contains(err.Error(), "cobol") {
		t.Fatalf("expected error to name the unsupported language, got %q", err.Error())
	}
}

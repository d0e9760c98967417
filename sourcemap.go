package jcc

import "sort"

// SourceMap is an append-only table mapping text-segment word offsets
// to the source Span whose lowering emitted the instruction at that
// offset. It is grounded on the teacher's query_source_map.go
// (BuildSourceMapFromProgram's offset-keyed entries, binary-searched
// by LocationAt) with the delta+varint compression dropped: this
// compiler's programs are orders of magnitude smaller than a
// generated parser's bytecode, so a plain slice searched with
// sort.Search is plenty, and the spec's own design note only asks for
// "an append-only vector keyed by text offset; binary-search it".
//
// The full source-level debugger built on top of this is out of
// scope (spec.md §1); what survives here is the piece every runtime
// diagnostic needs: translating a faulting PC back into file:line:col
// for a sanitizer abort or an FFI policy violation.
type SourceMap struct {
	entries []sourceMapEntry
}

type sourceMapEntry struct {
	offset int
	span   Span
}

// Record appends an entry for offset, skipping it when the span is
// identical to the most recently recorded one so a run of
// instructions lowered from the same AST node collapses to one entry,
// the same way the teacher only emits an entry when SourceLocation()
// changes between instructions.
func (sm *SourceMap) Record(offset int, span Span) {
	if n := len(sm.entries); n > 0 && sm.entries[n-1].span == span {
		return
	}
	sm.entries = append(sm.entries, sourceMapEntry{offset: offset, span: span})
}

// LocationAt returns the span covering the instruction at word offset
// pc, or false if pc precedes every recorded entry (e.g. pc is still
// inside a synthetic prologue emitted before any node had a span).
func (sm *SourceMap) LocationAt(pc int) (Span, bool) {
	i := sort.Search(len(sm.entries), func(i int) bool {
		return sm.entries[i].offset > pc
	})
	if i == 0 {
		return Span{}, false
	}
	return sm.entries[i-1].span, true
}

package jcc

// TokenKind tags a lexical token. pp-numbers are kept distinct from
// converted numbers so the preprocessor can paste/stringize them
// before a final conversion pass turns them into int/float literals.
type TokenKind int

const (
	TkIdent TokenKind = iota
	TkPunct
	TkKeyword
	TkNum    // already-converted integer or float constant
	TkPPNum  // raw pp-number, conversion deferred
	TkString
	TkChar
	TkEOF
)

// ValueKind tags the pre-converted literal value carried by a Num,
// String, or Char token.
type ValueKind int

const (
	ValNone ValueKind = iota
	ValInt
	ValFloat
	ValBytes
)

// File holds one translation unit's source text plus the bookkeeping
// needed to map tokens back to diagnostics: a stable file number, a
// line index, and a line_delta applied after a `#line` directive.
type File struct {
	Name      string
	Num       int
	Contents  []byte
	LineDelta int
	Index     *LineIndex
}

func NewFile(name string, num int, contents []byte) *File {
	return &File{Name: name, Num: num, Contents: contents, Index: NewLineIndex(name, contents)}
}

// Token is a node in the singly linked token stream produced by the
// tokenizer and threaded through the preprocessor.
type Token struct {
	Kind TokenKind
	Next *Token

	File   *File
	Span   Span
	Lexeme string

	AtBOL     bool // first token on its physical line
	HasSpace  bool // preceded by whitespace on the same physical line

	ValKind ValueKind
	IntVal  int64
	FloatVal float64
	Bytes    []byte // decoded string/char bytes
	IsUnsigned bool
	IsWide     bool // L/u/U/u8 prefixed string or char

	// Hideset is the set of macro names that must not re-expand
	// this token; see the Prosser algorithm in the preprocessor.
	Hideset *Hideset

	// Origin points at the token this one was produced from during
	// macro expansion, so diagnostics can print an
	// "expanded from ..." footnote chain.
	Origin *Token
}

func (t *Token) Location() Location {
	if t == nil || t.File == nil {
		return Location{}
	}
	return t.File.Index.LocationAt(t.Span.Start.Cursor)
}

// Is reports whether t is a punctuator, keyword or identifier spelled s.
func (t *Token) Is(s string) bool {
	return t != nil && (t.Kind == TkPunct || t.Kind == TkKeyword || t.Kind == TkIdent) && t.Lexeme == s
}

// expansionChain walks Origin pointers collecting the spans a token
// passed through, newest first, for the diagnostic footnote.
func (t *Token) expansionChain() []Span {
	var spans []Span
	for o := t.Origin; o != nil; o = o.Origin {
		spans = append(spans, o.Span)
	}
	return spans
}

// Hideset is a set of macro names, represented as a cons-list so that
// the common operations (union, intersect, contains) on the small
// sets that occur in practice don't require hashing on every token.
type Hideset struct {
	name string
	next *Hideset
}

func (h *Hideset) Contains(name string) bool {
	for n := h; n != nil; n = n.next {
		if n.name == name {
			return true
		}
	}
	return false
}

// Union prepends every name in h that isn't already present in the
// result, keeping membership tests cheap without needing a map for
// the hidesets that stay small.
func (h *Hideset) Union(other *Hideset) *Hideset {
	if h == nil {
		return other
	}
	result := other
	for n := h; n != nil; n = n.next {
		if !result.Contains(n.name) {
			result = &Hideset{name: n.name, next: result}
		}
	}
	return result
}

func (h *Hideset) Add(name string) *Hideset {
	if h.Contains(name) {
		return h
	}
	return &Hideset{name: name, next: h}
}

// Intersect returns the set of names present in both h and other.
func (h *Hideset) Intersect(other *Hideset) *Hideset {
	var result *Hideset
	for n := h; n != nil; n = n.next {
		if other.Contains(n.name) {
			result = &Hideset{name: n.name, next: result}
		}
	}
	return result
}

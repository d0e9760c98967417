package jcc

// varEntry is what a scope binds an identifier to: a runtime Obj, a
// typedef'd Type, or an enum constant's value.
type varEntry struct {
	obj       *Obj
	typeDef   *Type
	isEnum    bool
	enumVal   int64
}

type scopeFrame struct {
	vars map[string]*varEntry
	tags map[string]*Type
}

// scopeStack is a chain of lexical blocks, innermost first, mirroring
// how chibicc-derived parsers resolve identifiers: push on '{',
// pop on '}', search outward on lookup.
type scopeStack struct {
	frames []*scopeFrame
}

func newScopeStack() *scopeStack {
	s := &scopeStack{}
	s.push()
	return s
}

func (s *scopeStack) push() {
	s.frames = append(s.frames, &scopeFrame{vars: map[string]*varEntry{}, tags: map[string]*Type{}})
}

func (s *scopeStack) pop() {
	s.frames = s.frames[:len(s.frames)-1]
}

func (s *scopeStack) top() *scopeFrame { return s.frames[len(s.frames)-1] }

func (s *scopeStack) findVar(name string) *varEntry {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if e, ok := s.frames[i].vars[name]; ok {
			return e
		}
	}
	return nil
}

func (s *scopeStack) findTag(name string) *Type {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if t, ok := s.frames[i].tags[name]; ok {
			return t
		}
	}
	return nil
}

func (s *scopeStack) declareVar(name string, obj *Obj) {
	s.top().vars[name] = &varEntry{obj: obj}
}

func (s *scopeStack) declareTypedef(name string, ty *Type) {
	s.top().vars[name] = &varEntry{typeDef: ty}
}

func (s *scopeStack) declareEnumConst(name string, val int64) {
	s.top().vars[name] = &varEntry{isEnum: true, enumVal: val}
}

func (s *scopeStack) declareTag(name string, ty *Type) {
	s.top().tags[name] = ty
}

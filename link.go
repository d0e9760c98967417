package jcc

import "fmt"

// Link merges the Obj lists produced by parsing one or more
// translation units into a single program image, resolving tentative
// and extern declarations against their definitions the way a
// traditional linker resolves symbols across object files — except
// here it all happens in one process, one pass, before codegen ever
// runs.
//
// Conflict rules:
//   - two definitions of the same name: a hard link error.
//   - a declaration plus a definition: the declaration's references
//     adopt the definition's type and init data.
//   - two declarations, no definition: the first one is kept; later
//     ones are folded in (nothing to adopt).
func Link(units ...*Obj) (*Obj, error) {
	var all []*Obj
	for _, head := range units {
		for o := head; o != nil; o = o.Next {
			all = append(all, o)
		}
	}

	byName := map[string]*Obj{}
	var order []string
	for _, o := range all {
		existing, ok := byName[o.Name]
		if !ok {
			byName[o.Name] = o
			order = append(order, o.Name)
			continue
		}
		merged, err := mergeObj(existing, o)
		if err != nil {
			return nil, err
		}
		byName[o.Name] = merged
	}

	var head, tail *Obj
	for _, name := range order {
		o := byName[name]
		if head == nil {
			head = o
			tail = o
		} else {
			tail.Next = o
			tail = o
		}
	}
	if tail != nil {
		tail.Next = nil
	}
	return head, nil
}

func mergeObj(a, b *Obj) (*Obj, error) {
	if a.IsDefined && b.IsDefined {
		return nil, fmt.Errorf("link: %q is defined more than once", a.Name)
	}
	if !IsCompatible(a.Ty, b.Ty) {
		return nil, fmt.Errorf("link: conflicting types for %q", a.Name)
	}
	if b.IsDefined {
		return adoptDefinition(a, b), nil
	}
	if a.IsDefined {
		return adoptDefinition(b, a), nil
	}
	// Two declarations, neither a definition: keep the first.
	return a, nil
}

// adoptDefinition returns decl with def's definition-carrying fields
// copied in, keeping decl's Next pointer so link order is preserved.
func adoptDefinition(decl, def *Obj) *Obj {
	merged := *def
	merged.Next = decl.Next
	return &merged
}

package jcc

import "fmt"

// Compiler is the facade a host program drives: it owns the arena
// every stage allocates from and accumulates diagnostics across
// however many translation units CompileFile/CompileString add,
// mirroring how the teacher's own Compiler type threads one
// allocator and one diagnostic sink through an entire pipeline run.
type Compiler struct {
	arena  *Arena
	cfg    *Config
	loader IncludeLoader
	units  []*Obj
	diags  []Diagnostic
}

func NewCompiler(cfg *Config, loader IncludeLoader) *Compiler {
	if cfg == nil {
		cfg = NewConfig()
	}
	if loader == nil {
		loader = NewInMemoryIncludeLoader()
	}
	return &Compiler{arena: NewArena(0), cfg: cfg, loader: loader}
}

func (c *Compiler) Diagnostics() []Diagnostic { return c.diags }

// CompileString runs the full preprocess-parse-typecheck pipeline
// over src (named name for diagnostics) and adds its declarations to
// the compiler's link set.
func (c *Compiler) CompileString(name, src string) error {
	file := NewFile(name, len(c.units), []byte(src))
	lex := NewLexer(file, c.arena)
	tok, err := lex.Tokenize()
	if err != nil {
		return err
	}

	pp := NewPreprocessor(c.loader, nil, c.arena)
	expanded, err := pp.Process(tok)
	if err != nil {
		return err
	}
	c.diags = append(c.diags, pp.Diagnostics()...)

	objs, pdiags, err := Parse(expanded, c.arena)
	c.diags = append(c.diags, pdiags...)
	if err != nil {
		return err
	}
	c.units = append(c.units, objs)
	return nil
}

// CompileFile reads path through the compiler's IncludeLoader and
// compiles it the same way CompileString does.
func (c *Compiler) CompileFile(path string) error {
	data, err := c.loader.Read(path)
	if err != nil {
		return err
	}
	return c.CompileString(path, string(data))
}

// Link merges every compiled translation unit's declarations into one
// program-wide Obj list, applying the definition/declaration conflict
// rules link.go implements.
func (c *Compiler) Link() (*Obj, error) {
	if len(c.units) == 0 {
		return nil, fmt.Errorf("jcc: nothing to link, no translation unit was compiled")
	}
	return Link(c.units...)
}

// Generate links and code-generates every compiled unit into a
// runnable Program.
func (c *Compiler) Generate() (*Program, error) {
	objs, err := c.Link()
	if err != nil {
		return nil, err
	}
	return Generate(objs, c.cfg)
}

// Run links, code-generates, and executes the program's entry
// function (conventionally "main"), returning its A0 return value.
func (c *Compiler) Run(entry string) (int64, error) {
	prog, err := c.Generate()
	if err != nil {
		return 0, err
	}
	vm := NewVM(prog, c.cfg)
	StandardFFI(c.cfg).InstallOn(vm)
	return vm.Run(entry)
}

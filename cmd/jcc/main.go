// Command jcc compiles a single C source file and runs it on the
// bytecode VM. The CLI itself is a thin scaffold around the jcc
// package API; flag wiring follows the same stdlib flag/log pattern
// the teacher's own command driver uses.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/jcc-project/jcc"
)

func main() {
	var (
		boundsCheck = flag.Bool("fsanitize-bounds", false, "enable bounds-check instrumentation")
		stackCanary = flag.Bool("fsanitize-stack", false, "enable stack canary instrumentation")
		heapCanary  = flag.Bool("fsanitize-heap", false, "enable heap canary instrumentation")
		cfi         = flag.Bool("fsanitize-cfi", false, "enable control-flow-integrity shadow stack")
		tagging     = flag.Bool("fsanitize-tagging", false, "enable memory tagging")
		overflow    = flag.Bool("fsanitize-overflow", false, "enable overflow checks")
		uninit      = flag.Bool("fsanitize-uninitialized", false, "enable uninitialized-read checks")
		leak        = flag.Bool("fsanitize-leak", false, "report never-freed allocations at exit")
		disableFFI  = flag.Bool("fno-ffi", false, "reject all foreign-function calls")
		entry       = flag.String("entry", "main", "entry function to run")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] file.c\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := jcc.NewConfig()
	cfg.SetBool("sanitize.bounds", *boundsCheck)
	cfg.SetBool("sanitize.stack_canary", *stackCanary)
	cfg.SetBool("sanitize.heap_canary", *heapCanary)
	cfg.SetBool("sanitize.cfi", *cfi)
	cfg.SetBool("sanitize.memory_tagging", *tagging)
	cfg.SetBool("sanitize.overflow", *overflow)
	cfg.SetBool("sanitize.uninitialized", *uninit)
	cfg.SetBool("sanitize.leak_detection", *leak)
	cfg.SetBool("ffi.disabled", *disableFFI)

	compiler := jcc.NewCompiler(cfg, jcc.NewOSIncludeLoader())
	if err := compiler.CompileFile(flag.Arg(0)); err != nil {
		for _, d := range compiler.Diagnostics() {
			fmt.Fprint(os.Stderr, d.Error())
		}
		log.Fatalf("jcc: %v", err)
	}

	ret, err := compiler.Run(*entry)
	if err != nil {
		log.Fatalf("jcc: runtime error: %v", err)
	}
	os.Exit(int(ret))
}

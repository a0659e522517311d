// Command qatam is the CLI and REPL front end for the language: it
// lexes, parses, compiles, and runs `.قتام` source, or drops into an
// interactive prompt when given no file.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/yosefbeder/qatam/internal/ast"
	"github.com/yosefbeder/qatam/internal/compiler"
	"github.com/yosefbeder/qatam/internal/lexer"
	"github.com/yosefbeder/qatam/internal/loader"
	"github.com/yosefbeder/qatam/internal/modulecache"
	"github.com/yosefbeder/qatam/internal/parser"
	"github.com/yosefbeder/qatam/internal/vm"
)

const version = "qatam 0.1.0"

const (
	exitOK      = 0
	exitUsage   = 64 // EX_USAGE
	exitDataErr = 65 // EX_DATAERR
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	fs := flag.NewFlagSet("qatam", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		showVersion = fs.Bool("الإصدار", false, "اطبع رقم الإصدار")
		showHelp    = fs.Bool("ساعد", false, "اطبع هذه الرسالة")
		filePath    = fs.String("ملف", "", "نفّذ ملف .قتام")
		untrusted   = fs.Bool("غير-موثوق", false, "امنع الدوال الحساسة (ملفات، بيئة، عمليات)")
		disasm      = fs.Bool("فكك", false, "اطبع تفكيك الشيفرة قبل التنفيذ")
		deps        = fs.Bool("اعتماديات", false, "اطبع رسم بياني للاستيرادات من الذاكرة المؤقتة")
	)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\nUsage: qatam [options]\n\nOptions:\n", version)
		fs.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(os.Stderr, "  --%s\n\t%s\n", f.Name, f.Usage)
		})
	}

	if err := fs.Parse(argv); err != nil {
		return exitUsage
	}

	if *showHelp {
		fs.Usage()
		return exitOK
	}
	if *showVersion {
		fmt.Println(version)
		return exitOK
	}
	if *untrusted && *filePath == "" {
		fmt.Fprintln(os.Stderr, "--غير-موثوق requires --ملف")
		return exitUsage
	}

	if *filePath == "" {
		return runREPL()
	}

	if filepath.Ext(*filePath) != loader.SourceExt {
		fmt.Fprintf(os.Stderr, "source file must end in %q\n", loader.SourceExt)
		return exitUsage
	}

	content, err := os.ReadFile(*filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading %s: %s\n", *filePath, err)
		return exitUsage
	}

	return runFile(*filePath, string(content), *untrusted, *disasm, *deps)
}

func runFile(path, source string, untrusted, disasm, deps bool) int {
	dir := filepath.Dir(path)
	cache, err := modulecache.Open(filepath.Join(dir, ".qatam-cache.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening dependency cache: %s\n", err)
		cache = nil
	}
	defer cache.Close()

	ld := loader.New(cache)

	l := lexer.New(source, path)
	p := parser.New(l)
	prog := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		for _, msg := range errs {
			fmt.Fprintln(os.Stderr, msg)
		}
		return exitDataErr
	}

	fn, errs := compiler.Compile(prog, path, ld)
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e.Error())
		}
		return exitDataErr
	}

	if disasm {
		if ch, ok := fn.Chunk.(interface{ DisassembleAll(string) }); ok {
			ch.DisassembleAll(filepath.Base(path))
			fmt.Println()
		}
	}

	machine := vm.New(vm.Config{Untrusted: untrusted, RootPath: dir})
	if _, err := machine.Run(fn); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitDataErr
	}

	if deps {
		fmt.Println("-- dependency graph --")
		if err := cache.Print(fmt.Printf); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}

	return exitOK
}

// runREPL runs the interactive prompt: one shared VM persists globals
// across lines, and a bare expression statement is wrapped in a
// synthetic `print(...)` call before compiling so its value is visible,
// matching the teacher's REPL UX.
func runREPL() int {
	fmt.Println(version)
	fmt.Println("اكتب 'خروج' لإنهاء الجلسة.")

	interactive := isatty.IsTerminal(os.Stdin.Fd())
	machine := vm.New(vm.Config{RootPath: "."})
	ld := loader.New(nil)
	scanner := bufio.NewScanner(os.Stdin)

	var buffer strings.Builder

	for {
		if interactive {
			if buffer.Len() == 0 {
				fmt.Print(">>> ")
			} else {
				fmt.Print("... ")
			}
		}

		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		if strings.TrimSpace(line) == "خروج" {
			break
		}
		if strings.TrimSpace(line) == "" && buffer.Len() == 0 {
			continue
		}

		if buffer.Len() > 0 {
			buffer.WriteByte('\n')
		}
		buffer.WriteString(line)

		source := buffer.String()
		l := lexer.New(source, "<repl>")
		p := parser.New(l)
		prog := p.ParseProgram()

		if errs := p.Errors(); len(errs) > 0 {
			if looksIncomplete(errs) {
				continue // wait for more input
			}
			for _, msg := range errs {
				fmt.Println(msg)
			}
			buffer.Reset()
			continue
		}

		replAutoPrint(prog)

		fn, errs := compiler.Compile(prog, "<repl>", ld)
		if len(errs) > 0 {
			for _, e := range errs {
				fmt.Println(e.Error())
			}
			buffer.Reset()
			continue
		}

		if _, err := machine.Run(fn); err != nil {
			fmt.Println(err)
		}
		buffer.Reset()
	}
	return exitOK
}

func looksIncomplete(errs []string) bool {
	for _, msg := range errs {
		if strings.Contains(msg, "EOF") {
			return true
		}
	}
	return false
}

// replAutoPrint wraps a single bare expression statement in a
// `print(...)` call so the REPL echoes its value, same as a normal
// session would only see output from an explicit call.
func replAutoPrint(prog *ast.Program) {
	if len(prog.Statements) != 1 {
		return
	}
	exprStmt, ok := prog.Statements[0].(*ast.ExpressionStatement)
	if !ok {
		return
	}
	if _, isAssign := exprStmt.Expr.(*ast.AssignExpression); isAssign {
		return
	}
	tok := exprStmt.Tok()
	call := &ast.CallExpression{
		Token:  tok,
		Callee: &ast.Identifier{Token: tok, Name: "print"},
		Args:   []ast.Expression{exprStmt.Expr},
	}
	prog.Statements[0] = &ast.ExpressionStatement{Token: tok, Expr: call}
}

// Package loader provides the filesystem-backed compiler.ModuleLoader
// used by the CLI and REPL: it resolves `import ... from "path"`
// against the importing file's directory, enforces the `.قتام` source
// extension, and parses the target into an ast.Program.
package loader

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/yosefbeder/qatam/internal/ast"
	"github.com/yosefbeder/qatam/internal/lexer"
	"github.com/yosefbeder/qatam/internal/modulecache"
	"github.com/yosefbeder/qatam/internal/parser"
)

const SourceExt = ".قتام"

// FS resolves imports relative to the importing file's directory and
// records every resolved edge in an optional diagnostics Cache.
type FS struct {
	Cache *modulecache.Cache
}

func New(cache *modulecache.Cache) *FS {
	return &FS{Cache: cache}
}

// Load implements compiler.ModuleLoader. importPath is resolved
// relative to the directory of importerPath; a bare name with no
// extension gets SourceExt appended.
func (f *FS) Load(importerPath, importPath string) (*ast.Program, string, error) {
	if filepath.Ext(importPath) == "" {
		importPath += SourceExt
	}
	resolved := importPath
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(filepath.Dir(importerPath), importPath)
	}
	if filepath.Ext(resolved) != SourceExt {
		return nil, "", fmt.Errorf("module path %q must end in %q", resolved, SourceExt)
	}

	content, err := os.ReadFile(resolved)
	if err != nil {
		return nil, "", err
	}

	if f.Cache != nil {
		f.Cache.RecordEdge(importerPath, resolved, content)
	}

	l := lexer.New(string(content), resolved)
	p := parser.New(l)
	prog := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		return nil, "", fmt.Errorf("%d parse error(s) in %s: %s", len(errs), resolved, errs[0])
	}
	return prog, resolved, nil
}

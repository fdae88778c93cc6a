package driver

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ai/interpreter-go/pkg/bytecode"
	"ai/interpreter-go/pkg/compiler"
	"ai/interpreter-go/pkg/transfer"
)

// CompileFile compiles an Ai source file and stamps its git revision.
func CompileFile(path string, opts compiler.Options) (*bytecode.Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("compile: read %s: %w", path, err)
	}
	if opts.Source == "" {
		opts.Source = filepath.Base(path)
	}
	prog, err := compiler.CompileSource(string(src), opts)
	if err != nil {
		return nil, err
	}
	if err := StampRevision(prog, path); err != nil {
		return nil, err
	}
	return prog, nil
}

// LoadProgram reads a program in any supported form: binary programs are
// recognised by their magic, .yml and .yaml files are text programs, and
// everything else is compiled as Ai source.
func LoadProgram(path string, opts compiler.Options) (*bytecode.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load: read %s: %w", path, err)
	}
	switch {
	case transfer.IsBinary(data):
		return transfer.Decode(data)
	case isTextProgram(path, data):
		return transfer.DecodeText(data)
	}
	return CompileFile(path, opts)
}

func isTextProgram(path string, data []byte) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return true
	}
	return bytes.HasPrefix(bytes.TrimSpace(data), []byte("format: "+transfer.TextFormat))
}

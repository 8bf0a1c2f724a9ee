// gen-diagrams renders the example workflows as Mermaid and plain-text
// diagrams for README documentation.
// Run: go run ./cmd/gen-diagrams
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/reivaj/flowstate/internal/diagram"
	"github.com/reivaj/flowstate/pkg/schema"
)

func main() {
	outDir := filepath.Join("docs", "assets")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create %s: %v\n", outDir, err)
		os.Exit(1)
	}

	paths, err := filepath.Glob(filepath.Join("examples", "order-support", "*.json"))
	if err != nil || len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "no example workflows found under examples/order-support")
		os.Exit(1)
	}

	for _, path := range paths {
		if err := render(path, outDir); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			os.Exit(1)
		}
	}
}

func render(path, outDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var wf struct {
		Name  string               `json:"name"`
		Graph schema.WorkflowGraph `json:"graph"`
	}
	if err := json.Unmarshal(data, &wf); err != nil {
		return fmt.Errorf("parse workflow: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(path), ".json")
	model := diagram.FromGraph(wf.Name, &wf.Graph)

	mermaid := diagram.RenderMermaid(model)
	mmdPath := filepath.Join(outDir, base+"-mermaid.md")
	if err := os.WriteFile(mmdPath, []byte("```mermaid\n"+mermaid+"\n```\n"), 0o644); err != nil {
		return err
	}

	text := diagram.RenderText(model)
	txtPath := filepath.Join(outDir, base+"-outline.txt")
	if err := os.WriteFile(txtPath, []byte(text), 0o644); err != nil {
		return err
	}

	fmt.Printf("=== %s ===\n%s\n", wf.Name, mermaid)
	return nil
}

package ciworkflow

import (
	"bytes"
	"fmt"
	"strings"
)

// MermaidGenerator renders the module dependency graphs as a mermaid
// flowchart, one subgraph per environment. Arrows point from producer to
// consumer, the direction outputs flow.
type MermaidGenerator struct{}

// NewMermaidGenerator creates a new mermaid generator.
func NewMermaidGenerator() *MermaidGenerator {
	return &MermaidGenerator{}
}

// DefaultOutputPath returns the conventional output path.
func (g *MermaidGenerator) DefaultOutputPath() string {
	return "docs/stack-graph.md"
}

// DefaultTeardownOutputPath returns "" — there is no teardown rendering.
func (g *MermaidGenerator) DefaultTeardownOutputPath() string {
	return ""
}

// Generate produces a fenced mermaid block.
func (g *MermaidGenerator) Generate(w Workflow) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("```mermaid\n")
	buf.WriteString("flowchart TD\n")

	for _, graph := range w.Graphs {
		buf.WriteString(fmt.Sprintf("  subgraph %s\n", graph.Name))
		for _, m := range graph.Modules {
			buf.WriteString(fmt.Sprintf("    %s[%q]\n", mermaidID(graph.Name, m), m))
		}
		for _, edge := range graph.Edges {
			consumer, producer := edge[0], edge[1]
			buf.WriteString(fmt.Sprintf("    %s --> %s\n",
				mermaidID(graph.Name, producer), mermaidID(graph.Name, consumer)))
		}
		buf.WriteString("  end\n")
	}

	buf.WriteString("```\n")
	return buf.Bytes(), nil
}

// GenerateTeardown returns nil — visualization has no teardown variant.
func (g *MermaidGenerator) GenerateTeardown(w Workflow) ([]byte, error) {
	return nil, nil
}

func mermaidID(env, modulePath string) string {
	r := strings.NewReplacer("/", "_", "-", "_", ".", "_")
	return r.Replace(env) + "_" + r.Replace(modulePath)
}

package compiler

import (
	"fmt"
	"slices"
	"strings"
)

// CycleWarning reports a cycle in a module import graph.
//
// Import cycles always fail at runtime (the resolver refuses to re-enter a
// module that is still loading), so static analysis reports them ahead of
// time for validation tooling.
type CycleWarning struct {
	Path    []string `json:"path"`    // Cycle path: ["a.lib", "b.lib", "a.lib"]
	Message string   `json:"message"` // Human-readable description
	Level   string   `json:"level"`   // "warning"
}

// ImportGraph maps a module identity to the identities it imports.
type ImportGraph map[string][]string

// AddEdge records that from imports to.
func (g ImportGraph) AddEdge(from, to string) {
	if !slices.Contains(g[from], to) {
		g[from] = append(g[from], to)
	}
	if _, ok := g[to]; !ok {
		g[to] = []string{}
	}
}

// AnalyzeImportCycles finds import cycles using Tarjan's algorithm.
//
// Each strongly connected component with more than one module, or a module
// importing itself, becomes one warning. Nodes are visited in sorted order
// so the output is deterministic.
func AnalyzeImportCycles(graph ImportGraph) []CycleWarning {
	warnings := []CycleWarning{}
	if len(graph) == 0 {
		return warnings
	}

	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || (len(scc) == 1 && slices.Contains(graph[scc[0]], scc[0])) {
			warnings = append(warnings, sccToWarning(scc, graph))
		}
	}
	return warnings
}

// tarjanSCC finds strongly connected components.
func tarjanSCC(graph ImportGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for node := range graph {
		nodes = append(nodes, node)
	}
	slices.Sort(nodes)

	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

func sccToWarning(scc []string, graph ImportGraph) CycleWarning {
	path := cyclePath(scc, graph)
	if len(scc) == 1 {
		return CycleWarning{
			Path:    path,
			Message: fmt.Sprintf("module imports itself: %s", scc[0]),
			Level:   "warning",
		}
	}
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("import cycle: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// cyclePath walks edges inside the SCC from its first member until it
// returns to the start.
func cyclePath(scc []string, graph ImportGraph) []string {
	start := scc[0]
	current := start
	path := []string{current}
	visited := map[string]bool{}

	for {
		visited[current] = true
		next := ""
		for _, neighbor := range graph[current] {
			if slices.Contains(scc, neighbor) && (!visited[neighbor] || neighbor == start) {
				next = neighbor
				break
			}
		}
		if next == "" {
			return path
		}
		path = append(path, next)
		if next == start {
			return path
		}
		current = next
	}
}

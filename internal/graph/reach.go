package graph

// Closure returns every node reachable from roots, roots included, in
// breadth-first discovery order. Each node appears once.
func Closure(g Graph, roots ...string) ([]string, error) {
	seen := make(map[string]bool, len(roots))
	queue := make([]string, 0, len(roots))

	for _, r := range roots {
		if !g.Has(r) {
			return nil, &UnknownNodeError{Node: r}
		}
		if !seen[r] {
			seen[r] = true
			queue = append(queue, r)
		}
	}

	for i := 0; i < len(queue); i++ {
		next, err := g.Neighbors(queue[i])
		if err != nil {
			return nil, err
		}
		for _, n := range next {
			if seen[n] {
				continue
			}
			seen[n] = true
			queue = append(queue, n)
		}
	}

	return queue, nil
}

// Reduction describes which functions survive when a program is cut down to
// a single call path.
type Reduction struct {
	Path     Path     `json:"path"`
	Retained []string `json:"retained"`
	Pruned   []string `json:"pruned"`
}

// Reduce computes the retained set of path (the path nodes plus everything
// they transitively call) and the pruned set (every other node of g).
// Nodes listed in protected are never reported as pruned.
func Reduce(g *CallGraph, path Path, protected ...string) (*Reduction, error) {
	retained, err := Closure(g, path...)
	if err != nil {
		return nil, err
	}

	keep := make(map[string]bool, len(retained)+len(protected))
	for _, n := range retained {
		keep[n] = true
	}
	for _, n := range protected {
		keep[n] = true
	}

	var pruned []string
	for _, n := range g.Nodes() {
		if !keep[n] {
			pruned = append(pruned, n)
		}
	}

	return &Reduction{Path: path, Retained: retained, Pruned: pruned}, nil
}

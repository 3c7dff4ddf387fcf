package graph

// frontier holds the partial paths that have not reached the target yet.
// It is a stack for DepthFirst and a queue for BreadthFirst.
type frontier struct {
	paths []Path
	lifo  bool
}

func newFrontier(strategy Strategy) *frontier {
	return &frontier{lifo: strategy == DepthFirst}
}

func (f *frontier) push(p Path) {
	f.paths = append(f.paths, p)
}

func (f *frontier) pop() Path {
	if f.lifo {
		last := len(f.paths) - 1
		p := f.paths[last]
		f.paths[last] = nil
		f.paths = f.paths[:last]
		return p
	}
	p := f.paths[0]
	f.paths[0] = nil
	f.paths = f.paths[1:]
	return p
}

func (f *frontier) empty() bool {
	return len(f.paths) == 0
}

// Searcher finds a path between two nodes of a Graph.
type Searcher struct {
	// Strategy selects stack (DepthFirst) or queue (BreadthFirst) removal.
	Strategy Strategy

	// OnExpand, if set, is called with every candidate whose tip is about
	// to be expanded.
	OnExpand func(candidate Path)
}

// FindPath searches g for a path from start to end using strategy.
//
// It returns (path, true, nil) when a path exists and (nil, false, nil) when
// end is unreachable from start. An error wrapping ErrUnknownNode is returned
// only when start or end is not a node of g.
func FindPath(g Graph, start, end string, strategy Strategy) (Path, bool, error) {
	s := Searcher{Strategy: strategy}
	return s.Find(g, start, end)
}

// Find runs the search. See FindPath.
func (s Searcher) Find(g Graph, start, end string) (Path, bool, error) {
	if !g.Has(start) {
		return nil, false, &UnknownNodeError{Node: start}
	}
	if !g.Has(end) {
		return nil, false, &UnknownNodeError{Node: end}
	}

	f := newFrontier(s.Strategy)
	f.push(Path{start})

	// Tips that have been expanded once. A tip is never expanded twice, which
	// bounds the work on cyclic graphs and keeps every path free of repeats.
	expanded := make(map[string]bool)

	for !f.empty() {
		candidate := f.pop()
		tip := candidate.Tip()

		if tip == end {
			return candidate, true, nil
		}
		if expanded[tip] {
			continue
		}
		expanded[tip] = true

		if s.OnExpand != nil {
			s.OnExpand(candidate)
		}

		next, err := g.Neighbors(tip)
		if err != nil {
			return nil, false, err
		}
		for _, n := range next {
			if expanded[n] {
				continue
			}
			f.push(candidate.Extend(n))
		}
	}

	return nil, false, nil
}

package geom

// FloodSearch walks outward from start over 4-connected cells for which
// inArea holds and returns the first cell that satisfies isDone.
// start itself is tested first.
func FloodSearch(start Pos, inArea, isDone func(Pos) bool) (Pos, bool) {
	if !InBounds(start) {
		return Unset, false
	}
	visited := make([]bool, RoomSize*RoomSize)
	queue := []Pos{start}
	visited[Index(start)] = true

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if isDone(p) {
			return p, true
		}
		for _, d := range dirs4 {
			n := Add(p, d)
			if !InBounds(n) || visited[Index(n)] {
				continue
			}
			visited[Index(n)] = true
			if inArea(n) {
				queue = append(queue, n)
			}
		}
	}
	return Unset, false
}

// Path finds a shortest 8-connected path from from to to over passable
// cells. The returned slice excludes from and ends at to. The target cell
// does not need to be passable. nil means unreachable.
func Path(from, to Pos, passable func(Pos) bool) []Pos {
	if Same(from, to) {
		return []Pos{}
	}
	if !InBounds(from) || !InBounds(to) {
		return nil
	}
	prev := make([]int, RoomSize*RoomSize)
	for i := range prev {
		prev[i] = -1
	}
	start := Index(from)
	prev[start] = start
	queue := []Pos{from}

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		for _, d := range dirs8 {
			n := Add(p, d)
			if !InBounds(n) || prev[Index(n)] != -1 {
				continue
			}
			if !Same(n, to) && !passable(n) {
				continue
			}
			prev[Index(n)] = Index(p)
			if Same(n, to) {
				return unwind(prev, start, Index(n))
			}
			queue = append(queue, n)
		}
	}
	return nil
}

func unwind(prev []int, start, end int) []Pos {
	var rev []Pos
	for i := end; i != start; i = prev[i] {
		rev = append(rev, FromIndex(i))
	}
	out := make([]Pos, len(rev))
	for i := range rev {
		out[i] = rev[len(rev)-1-i]
	}
	return out
}

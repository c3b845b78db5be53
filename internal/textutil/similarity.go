package textutil

// Jaccard returns |a∩b| / |a∪b| over the distinct elements of a and b.
// Two empty sets have similarity 0.
func Jaccard(a, b []string) float64 {
	sa, sb := set(a), set(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 0
	}
	inter := intersect(sa, sb)
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

// Overlap returns |a∩b| / min(|a|,|b|) over distinct elements, 0 if either is empty.
func Overlap(a, b []string) float64 {
	sa, sb := set(a), set(b)
	smaller := len(sa)
	if len(sb) < smaller {
		smaller = len(sb)
	}
	if smaller == 0 {
		return 0
	}
	return float64(intersect(sa, sb)) / float64(smaller)
}

func set(items []string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return m
}

func intersect(a, b map[string]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

package control

import "github.com/gobwas/glob"

// expandPattern matches pattern against every name in order, using
// gobwas/glob so the three rules of spec.md §4.G ("*" matches
// everything, "<prefix>.*" matches a prefix, a literal matches itself)
// fall out of one compiled matcher rather than three branches: a glob
// with no wildcard characters degenerates to an exact match.
func expandPattern(pattern string, names []string) []string {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil
	}
	var out []string
	for _, name := range names {
		if g.Match(name) {
			out = append(out, name)
		}
	}
	return out
}

// expandPatterns expands every pattern in order and de-duplicates the
// combined result, preserving first-occurrence order, per spec.md
// §4.G's pattern expansion rules.
func expandPatterns(patterns []string, names []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range patterns {
		for _, name := range expandPattern(p, names) {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

package jcampdx

import "strings"

// Suggest returns the closest known parameter name for a miss, or the empty
// string when nothing is within editing distance. Matching is
// case-insensitive so VisuCoresize still finds VisuCoreSize.
func (p *Parameters) Suggest(name string) string {
	const maxDistance = 5
	input := strings.ToLower(name)
	bestDistance := maxDistance + 1
	var bestMatch string

	for _, key := range p.order {
		distance := levenshteinDistance(input, strings.ToLower(key))
		if distance < bestDistance {
			bestDistance = distance
			bestMatch = key
		}
	}

	if bestDistance <= maxDistance {
		return bestMatch
	}
	return ""
}

// levenshteinDistance calculates the minimum number of single-character
// edits (insertions, deletions, or substitutions) required to change one
// string into the other.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
	}

	for i := 0; i <= len(a); i++ {
		matrix[i][0] = i
	}
	for j := 0; j <= len(b); j++ {
		matrix[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}

			matrix[i][j] = min(
				matrix[i-1][j]+1,      // deletion
				matrix[i][j-1]+1,      // insertion
				matrix[i-1][j-1]+cost, // substitution
			)
		}
	}

	return matrix[len(a)][len(b)]
}

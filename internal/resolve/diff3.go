package resolve

import "strings"

// Conflict marker lines written into merged text for manual resolution.
// The format follows git's diff3 style so editors highlight it natively.
const (
	markerLocal  = "<<<<<<< local"
	markerBase   = "||||||| base"
	markerSplit  = "======="
	markerRemote = ">>>>>>> remote"
)

// diff3 merges local and remote against their common base at line
// granularity. Non-overlapping edits merge cleanly; overlapping regions
// produce conflict markers and clean=false.
func diff3(base, local, remote string) (merged string, clean bool) {
	b := splitLines(base)
	l := splitLines(local)
	r := splitLines(remote)

	matchL := lcsMatch(b, l)
	matchR := lcsMatch(b, r)

	var out []string
	clean = true
	i, j, k := 0, 0, 0

	for i < len(b) || j < len(l) || k < len(r) {
		// Copy runs where all three agree on the same line.
		if i < len(b) {
			jl, okL := matchL[i]
			kr, okR := matchR[i]
			if okL && okR && jl == j && kr == k {
				out = append(out, b[i])
				i, j, k = i+1, j+1, k+1
				continue
			}
		}

		// Find the next base line stable on both sides.
		i2 := i
		for i2 < len(b) {
			jl, okL := matchL[i2]
			kr, okR := matchR[i2]
			if okL && okR && jl >= j && kr >= k {
				break
			}
			i2++
		}
		j2, k2 := len(l), len(r)
		if i2 < len(b) {
			j2, k2 = matchL[i2], matchR[i2]
		}

		baseChunk := b[i:i2]
		localChunk := l[j:j2]
		remoteChunk := r[k:k2]

		switch {
		case linesEqual(localChunk, baseChunk):
			out = append(out, remoteChunk...)
		case linesEqual(remoteChunk, baseChunk):
			out = append(out, localChunk...)
		case linesEqual(localChunk, remoteChunk):
			out = append(out, localChunk...)
		default:
			clean = false
			out = append(out, markerLocal)
			out = append(out, localChunk...)
			out = append(out, markerBase)
			out = append(out, baseChunk...)
			out = append(out, markerSplit)
			out = append(out, remoteChunk...)
			out = append(out, markerRemote)
		}

		i, j, k = i2, j2, k2
	}

	return strings.Join(out, "\n"), clean
}

// HasMarkers reports whether text contains unresolved conflict markers.
// Pushes to an entity are blocked while its content carries markers.
func HasMarkers(text string) bool {
	for _, line := range splitLines(text) {
		if strings.HasPrefix(line, "<<<<<<<") ||
			strings.HasPrefix(line, ">>>>>>>") ||
			line == markerSplit {
			return true
		}
	}
	return false
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// lcsMatch returns the longest-common-subsequence alignment from indexes
// of a to indexes of b.
func lcsMatch(a, b []string) map[int]int {
	n, m := len(a), len(b)
	// dp[i][j] = LCS length of a[i:], b[j:].
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	match := make(map[int]int, n)
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			match[i] = j
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			i++
		default:
			j++
		}
	}
	return match
}

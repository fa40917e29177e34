package core

import (
	"strconv"
	"strings"
)

// CompareSemver orders two dotted-numeric version strings, returning a
// negative number if a < b, zero if equal, positive if a > b. Only the
// numeric major.minor.patch triple is compared; a version with fewer
// segments than the other treats the missing segments as zero (so
// "1.2" == "1.2.0"). Non-numeric segments compare as zero, since
// facade's range resolution only needs a total order for picking the
// highest match out of a set vers.Parse has already filtered.
func CompareSemver(a, b string) int {
	as := splitSemver(a)
	bs := splitSemver(b)
	for i := 0; i < 3; i++ {
		if as[i] != bs[i] {
			return as[i] - bs[i]
		}
	}
	return 0
}

func splitSemver(v string) [3]int {
	v = strings.TrimPrefix(v, "v")
	parts := strings.SplitN(v, ".", 3)
	var out [3]int
	for i := 0; i < len(parts) && i < 3; i++ {
		segment := parts[i]
		if idx := strings.IndexAny(segment, "-+"); idx >= 0 {
			segment = segment[:idx]
		}
		n, err := strconv.Atoi(segment)
		if err != nil {
			continue
		}
		out[i] = n
	}
	return out
}

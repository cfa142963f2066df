package schedule

import "strconv"

// trimFloat renders a float64 that is conceptually an integer number of
// seconds (spec.md §3: "start_time (integer seconds...)") without a
// trailing ".0", while still tolerating the rare fractional value.
func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

package dbfacade

import "github.com/lib/pq"

// transposeText wraps one string column in pq.Array. It performs no
// length check; the Insert* methods call pq.Array directly and check
// column lengths with requireEqualLength.
func transposeText(col []string) any {
	return pq.Array(col)
}

func transposeInt64(col []int64) any {
	return pq.Array(col)
}

func transposeBytea(col [][]byte) any {
	return pq.Array(col)
}

func transposeJSONB(col []string) any {
	return pq.Array(col)
}

// requireEqualLength panics (spec.md §7 category 7: contract violation)
// if lens are not all identical — ragged parallel arrays signal a caller
// bug, not a recoverable runtime condition.
func requireEqualLength(lens ...int) {
	if len(lens) == 0 {
		return
	}
	want := lens[0]
	for _, l := range lens[1:] {
		if l != want {
			panic(ErrRaggedColumns)
		}
	}
}

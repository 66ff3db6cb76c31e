package utils

import (
	"math/rand"

	"github.com/Blackdeer1524/HeapDB/src/pkg/assert"
)

func Must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}

	return v
}

type Integer interface {
	~int | ~int32 | ~int64 | ~uint16 | ~uint32 | ~uint64
}

// GenerateUniqueInts returns n distinct values from [lo, hi).
func GenerateUniqueInts[T Integer](n int, lo, hi T) []T {
	assert.Assert(int(hi-lo) >= n, "range [%d, %d) is too small for %d values", lo, hi, n)

	seen := make(map[T]struct{}, n)
	res := make([]T, 0, n)
	for len(res) < n {
		//nolint:gosec
		v := lo + T(rand.Int63n(int64(hi-lo)))
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		res = append(res, v)
	}

	return res
}

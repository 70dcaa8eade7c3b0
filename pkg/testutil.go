package mmdb

import (
	"crypto/rand"

	fuzz "github.com/google/gofuzz"
)

// Random test fixtures, grounded on the teacher's test_utils.go: gofuzz
// generates the key/value corpus tests exercise the B+tree with, instead of
// hand-written literals that would only ever touch one code path.
var fuzzer = fuzz.New()

// randomKV returns size distinct, non-empty string keys mapped to random
// values.
func randomKV(size int) map[string]string {
	kvs := map[string]string{}
	for len(kvs) < size {
		var key, value string
		fuzzer.Fuzz(&key)
		fuzzer.Fuzz(&value)
		if key == "" {
			continue
		}
		kvs[key] = value
	}
	return kvs
}

// randomByteArray returns size random bytes.
func randomByteArray(size int) []byte {
	arr := make([]byte, size)
	_, _ = rand.Read(arr)
	return arr
}

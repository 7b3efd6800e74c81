// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package elastic

import (
	"fmt"
	"io"
	"strconv"
	"testing"

	"github.com/aclements/go-perfevent/perfbench"
)

func BenchmarkTableIter(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapIter))
	b.Run("impl=elasticTable", benchSizes(benchmarkElasticTableIter))
}

func BenchmarkTableGetHit(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapGetHit))
	b.Run("impl=elasticTable", benchSizes(benchmarkElasticTableGetHit))
	b.Run("impl=elasticTable/hash=fnv1a", benchSizes(benchmarkElasticTableGetHit, WithHash(FNV1a)))
}

func BenchmarkTableGetMiss(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapGetMiss))
	b.Run("impl=elasticTable", benchSizes(benchmarkElasticTableGetMiss))
}

func BenchmarkTablePutGrow(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapPutGrow))
	b.Run("impl=elasticTable", benchSizes(benchmarkElasticTablePutGrow))
}

func BenchmarkTablePutPreAllocate(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapPutPreAllocate))
	b.Run("impl=elasticTable", benchSizes(benchmarkElasticTablePutPreAllocate))
}

func BenchmarkTablePutDelete(b *testing.B) {
	b.Run("impl=runtimeMap", benchSizes(benchmarkRuntimeMapPutDelete))
	b.Run("impl=elasticTable", benchSizes(benchmarkElasticTablePutDelete))
}

// BenchmarkTableHighLoad measures operations on a table filled right up to
// a given load, where elastic hashing is expected to shine. Misses and
// insertions of new keys are the operations most sensitive to how full the
// individual levels are.
func BenchmarkTableHighLoad(b *testing.B) {
	for _, capacity := range []int{1 << 12, 1 << 14, 1 << 16} {
		for _, load := range []float64{0.5, 0.75, 0.89} {
			name := fmt.Sprintf("capacity=%d/load=%.2f", capacity, load)
			b.Run(name+"/op=getHit", func(b *testing.B) {
				benchmarkHighLoad(b, capacity, load, func(tbl *Table, keys, miss [][]byte) {
					var ok bool
					for i := 0; i < b.N; i++ {
						_, ok = tbl.Get(keys[i%len(keys)])
					}
					b.StopTimer()
					fmt.Fprint(io.Discard, ok)
				})
			})
			b.Run(name+"/op=getMiss", func(b *testing.B) {
				benchmarkHighLoad(b, capacity, load, func(tbl *Table, keys, miss [][]byte) {
					var ok bool
					for i := 0; i < b.N; i++ {
						_, ok = tbl.Get(miss[i%len(miss)])
					}
					b.StopTimer()
					fmt.Fprint(io.Discard, ok)
				})
			})
			b.Run(name+"/op=putDelete", func(b *testing.B) {
				// Insert a new key and delete it again so that the load
				// stays constant.
				benchmarkHighLoad(b, capacity, load, func(tbl *Table, keys, miss [][]byte) {
					for i := 0; i < b.N; i++ {
						k := miss[i%len(miss)]
						_ = tbl.Put(k, k)
						tbl.Delete(k)
					}
				})
			})
		}
	}
}

func benchmarkHighLoad(
	b *testing.B, capacity int, load float64, f func(tbl *Table, keys, miss [][]byte),
) {
	tbl := newBenchTable(b, capacity)
	n := int(load * float64(capacity))
	keys := genKeys(0, n)
	miss := genKeys(-n, 0)
	for _, k := range keys {
		if err := tbl.Put(k, k); err != nil {
			b.Fatal(err)
		}
	}
	b.ResetTimer()
	perfbench.Open(b)
	f(tbl, keys, miss)
}

func benchSizes(
	f func(b *testing.B, n int, options ...Option), options ...Option,
) func(*testing.B) {
	var cases = []int{
		6, 12, 18, 24, 30,
		64,
		128,
		256,
		512,
		1024,
		2048,
		4096,
		8192,
		1 << 16,
	}

	return func(b *testing.B) {
		for _, n := range cases {
			b.Run("len="+strconv.Itoa(n), func(b *testing.B) { f(b, n, options...) })
		}
	}
}

func genKeys(start, end int) [][]byte {
	keys := make([][]byte, end-start)
	for i := range keys {
		keys[i] = []byte(strconv.Itoa(start + i))
	}
	return keys
}

func newBenchTable(b *testing.B, capacity int, options ...Option) *Table {
	tbl, err := New(capacity, options...)
	if err != nil {
		b.Fatal(err)
	}
	return tbl
}

func benchmarkRuntimeMapIter(b *testing.B, n int, _ ...Option) {
	m := make(map[string][]byte, n)
	for _, k := range genKeys(0, n) {
		m[string(k)] = k
	}
	b.ResetTimer()
	perfbench.Open(b)
	var tmp int
	for i := 0; i < b.N; i++ {
		for k, v := range m {
			tmp += len(k) + len(v)
		}
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, tmp)
}

func benchmarkElasticTableIter(b *testing.B, n int, options ...Option) {
	tbl := newBenchTable(b, n, options...)
	for _, k := range genKeys(0, n) {
		_ = tbl.Put(k, k)
	}
	b.ResetTimer()
	perfbench.Open(b)
	var tmp int
	for i := 0; i < b.N; i++ {
		tbl.All(func(k, v []byte) bool {
			tmp += len(k) + len(v)
			return true
		})
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, tmp)
}

func benchmarkRuntimeMapGetMiss(b *testing.B, n int, _ ...Option) {
	m := make(map[string][]byte)
	miss := genKeys(-n, 0)
	for _, k := range genKeys(0, n) {
		m[string(k)] = k
	}
	b.ResetTimer()
	perfbench.Open(b)
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m[string(miss[i%len(miss)])]
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkElasticTableGetMiss(b *testing.B, n int, options ...Option) {
	tbl := newBenchTable(b, 0, options...)
	miss := genKeys(-n, 0)
	for _, k := range genKeys(0, n) {
		_ = tbl.Put(k, k)
	}
	b.ResetTimer()
	perfbench.Open(b)
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = tbl.Get(miss[i%len(miss)])
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkRuntimeMapGetHit(b *testing.B, n int, _ ...Option) {
	m := make(map[string][]byte, n)
	for _, k := range genKeys(0, n) {
		m[string(k)] = k
	}
	keys := genKeys(0, n)
	b.ResetTimer()
	perfbench.Open(b)
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = m[string(keys[i%n])]
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkElasticTableGetHit(b *testing.B, n int, options ...Option) {
	tbl := newBenchTable(b, n, options...)
	keys := genKeys(0, n)
	for _, k := range keys {
		_ = tbl.Put(k, k)
	}
	b.ResetTimer()
	perfbench.Open(b)
	var ok bool
	for i := 0; i < b.N; i++ {
		_, ok = tbl.Get(keys[i%n])
	}
	b.StopTimer()
	fmt.Fprint(io.Discard, ok)
}

func benchmarkRuntimeMapPutGrow(b *testing.B, n int, _ ...Option) {
	keys := genKeys(0, n)
	b.ResetTimer()
	perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		m := make(map[string][]byte)
		for _, k := range keys {
			m[string(k)] = append([]byte(nil), k...)
		}
	}
}

func benchmarkElasticTablePutGrow(b *testing.B, n int, options ...Option) {
	keys := genKeys(0, n)
	b.ResetTimer()
	perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		tbl := newBenchTable(b, 0, options...)
		for _, k := range keys {
			_ = tbl.Put(k, k)
		}
	}
}

func benchmarkRuntimeMapPutPreAllocate(b *testing.B, n int, _ ...Option) {
	keys := genKeys(0, n)
	b.ResetTimer()
	perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		m := make(map[string][]byte, n)
		for _, k := range keys {
			m[string(k)] = append([]byte(nil), k...)
		}
	}
}

func benchmarkElasticTablePutPreAllocate(b *testing.B, n int, options ...Option) {
	keys := genKeys(0, n)
	// Size the table so that n entries stay below the max load.
	capacity := int(float64(n)/defaultMaxLoad) + 1
	b.ResetTimer()
	perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		tbl := newBenchTable(b, capacity, options...)
		for _, k := range keys {
			_ = tbl.Put(k, k)
		}
	}
}

func benchmarkRuntimeMapPutDelete(b *testing.B, n int, _ ...Option) {
	m := make(map[string][]byte, n)
	keys := genKeys(0, n)
	for _, k := range keys {
		m[string(k)] = k
	}
	b.ResetTimer()
	perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		j := i % n
		delete(m, string(keys[j]))
		m[string(keys[j])] = append([]byte(nil), keys[j]...)
	}
}

func benchmarkElasticTablePutDelete(b *testing.B, n int, options ...Option) {
	tbl := newBenchTable(b, n, options...)
	keys := genKeys(0, n)
	for _, k := range keys {
		_ = tbl.Put(k, k)
	}
	b.ResetTimer()
	perfbench.Open(b)
	for i := 0; i < b.N; i++ {
		j := i % n
		tbl.Delete(keys[j])
		_ = tbl.Put(keys[j], keys[j])
	}
}

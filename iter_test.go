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
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func iterToBuiltinMap(it *Iterator) map[string]string {
	r := make(map[string]string)
	for {
		k, v, ok := it.Next()
		if !ok {
			return r
		}
		r[string(k)] = string(v)
	}
}

func TestIterEmpty(t *testing.T) {
	tbl := newTestTable(t, 0)
	it := tbl.Iter()
	_, _, ok := it.Next()
	require.False(t, ok)

	var n int
	for range tbl.All {
		n++
	}
	require.Equal(t, 0, n)
}

func TestIterCompleteness(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	tbl := newTestTable(t, 0)
	e := make(map[string]string)

	// Interleave insertions, updates and deletions across several resizes
	// and compactions; iteration must yield exactly the live entries.
	for i := 0; i < 5000; i++ {
		k := strconv.Itoa(rng.Intn(2000))
		if rng.Intn(3) == 0 {
			require.Equal(t, contains(e, k), tbl.Delete([]byte(k)))
			delete(e, k)
			continue
		}
		v := strconv.Itoa(i)
		require.NoError(t, tbl.Put([]byte(k), []byte(v)))
		e[k] = v

		if i%500 == 0 {
			it := tbl.Iter()
			require.Equal(t, e, iterToBuiltinMap(it))
			it.Close()
			require.Equal(t, e, tbl.toBuiltinMap())
		}
	}
	require.Equal(t, e, iterToBuiltinMap(tbl.Iter()))
	require.Equal(t, e, tbl.toBuiltinMap())

	// Every occupied slot is yielded once, in level order.
	var n, lastLevel int
	it := tbl.Iter()
	for {
		_, _, ok := it.Next()
		if !ok {
			break
		}
		require.GreaterOrEqual(t, it.level, lastLevel)
		lastLevel = it.level
		n++
	}
	require.Equal(t, tbl.Len(), n)
}

func contains(m map[string]string, k string) bool {
	_, ok := m[k]
	return ok
}

func TestIterKeysAreCopies(t *testing.T) {
	tbl := newTestTable(t, 0)
	require.NoError(t, tbl.Put([]byte("key"), []byte("value")))

	it := tbl.Iter()
	k, v, ok := it.Next()
	require.True(t, ok)
	require.Equal(t, "key", string(k))
	require.Equal(t, "value", string(v))
	k[0] = 'X'

	got, ok := tbl.Get([]byte("key"))
	require.True(t, ok)
	require.Equal(t, "value", string(got))
}

func TestIterClose(t *testing.T) {
	tbl := newTestTable(t, 0)
	for i := 0; i < 10; i++ {
		require.NoError(t, tbl.Put([]byte(strconv.Itoa(i)), nil))
	}
	it := tbl.Iter()
	_, _, ok := it.Next()
	require.True(t, ok)
	it.Close()
	_, _, ok = it.Next()
	require.False(t, ok)
	it.Close()
}

func TestAllEarlyExit(t *testing.T) {
	tbl := newTestTable(t, 0)
	for i := 0; i < 100; i++ {
		require.NoError(t, tbl.Put([]byte(strconv.Itoa(i)), nil))
	}
	var n int
	for range tbl.All {
		n++
		if n == 10 {
			break
		}
	}
	require.Equal(t, 10, n)
}

func TestAllRebuild(t *testing.T) {
	tbl := newTestTable(t, 0)
	for i := 0; i < 100; i++ {
		require.NoError(t, tbl.Put([]byte(strconv.Itoa(i)), []byte(strconv.Itoa(i))))
	}
	e := tbl.toBuiltinMap()
	require.Len(t, e, 100)

	// Iterate over the table, rebuilding it periodically. We should see all
	// of the entries that were originally in the table because All takes a
	// snapshot of the levels before iterating.
	vals := make(map[string]string)
	var n int
	tbl.All(func(k, v []byte) bool {
		if n%10 == 0 {
			require.NoError(t, tbl.rebuild(2*tbl.Capacity(), "test"))
		}
		n++
		vals[string(k)] = string(v)
		return true
	})
	require.Equal(t, e, vals)
	require.Equal(t, e, tbl.toBuiltinMap())
}

func TestIterRebuild(t *testing.T) {
	tbl := newTestTable(t, 0)
	for i := 0; i < 50; i++ {
		require.NoError(t, tbl.Put([]byte(strconv.Itoa(i)), []byte(strconv.Itoa(i))))
	}
	e := tbl.toBuiltinMap()

	it := tbl.Iter()
	vals := make(map[string]string)
	for i := 0; ; i++ {
		if i%7 == 0 {
			require.NoError(t, tbl.rebuild(tbl.Capacity(), "test"))
		}
		k, v, ok := it.Next()
		if !ok {
			break
		}
		vals[string(k)] = string(v)
	}
	require.Equal(t, e, vals)
}

package testing

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/db"
)

// RunDocDBBenchmarks runs all benchmarks for a document store implementation
func RunDocDBBenchmarks(b *testing.B, name string, factory DBFactory) {

	b.Run("Insert", func(b *testing.B) {
		benchmarkInsert(b, factory())
	})

	b.Run("InsertExisting", func(b *testing.B) {
		benchmarkInsertExisting(b, factory())
	})

	b.Run("InsertLargeValue", func(b *testing.B) {
		benchmarkInsertLargeValue(b, factory())
	})

	b.Run("Replace", func(b *testing.B) {
		benchmarkReplace(b, factory())
	})

	b.Run("Get", func(b *testing.B) {
		benchmarkGet(b, factory())
	})

	b.Run("Delete", func(b *testing.B) {
		benchmarkDelete(b, factory())
	})

	b.Run("Has(not)", func(b *testing.B) {
		benchmarkHasNot(b, factory())
	})

	b.Run("SaveLoad", func(b *testing.B) {
		benchmarkSaveLoad(b, factory)
	})

	b.Run("MixedUsage", func(b *testing.B) {
		benchmarkMixedUsage(b, factory())
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// Benchmark for Insert operation
func benchmarkInsert(b *testing.B, database db.DocDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureInsert)

	var idx atomic.Uint64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := idx.Add(1)
			database.Insert(fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf(`{"_id":%d}`, i)), i)
		}
	})
}

// Benchmark for Insert operation with existing keys (duplicate rejections)
func benchmarkInsertExisting(b *testing.B, database db.DocDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureInsert)

	const numKeys = 10000
	for i := 0; i < numKeys; i++ {
		database.Insert(fmt.Sprintf("key-%d", i), []byte("value"), uint64(i+1))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			database.Insert(fmt.Sprintf("key-%d", counter%numKeys), []byte("value"), numKeys+1)
			counter++
		}
	})
}

// Benchmark for Insert operation with large values
func benchmarkInsertLargeValue(b *testing.B, database db.DocDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureInsert)

	value := bytes.Repeat([]byte("x"), 64*1024)
	var idx atomic.Uint64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := idx.Add(1)
			database.Insert(fmt.Sprintf("key-%d", i), value, i)
		}
	})
}

// Benchmark for Replace operation
func benchmarkReplace(b *testing.B, database db.DocDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureInsert|db.FeatureReplace)

	const numKeys = 10000
	for i := 0; i < numKeys; i++ {
		database.Insert(fmt.Sprintf("key-%d", i), []byte("value"), 1)
	}

	var idx atomic.Uint64
	idx.Store(1)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			database.Replace(fmt.Sprintf("key-%d", counter%numKeys), []byte("new-value"), idx.Add(1))
			counter++
		}
	})
}

// Benchmark for Get operation
func benchmarkGet(b *testing.B, database db.DocDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureInsert|db.FeatureGet)

	const numKeys = 10000
	for i := 0; i < numKeys; i++ {
		database.Insert(fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf("value-%d", i)), uint64(i+1))
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			database.Get(fmt.Sprintf("key-%d", counter%numKeys))
			counter++
		}
	})
}

// Benchmark for Delete operation
func benchmarkDelete(b *testing.B, database db.DocDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureInsert|db.FeatureDelete)

	for i := 0; i < b.N; i++ {
		database.Insert(fmt.Sprintf("key-%d", i), []byte("value"), uint64(i+1))
	}

	var idx atomic.Uint64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := idx.Add(1) - 1
			database.Delete(fmt.Sprintf("key-%d", i), uint64(b.N)+i+1)
		}
	})
}

// Benchmark for Has operation on missing keys
func benchmarkHasNot(b *testing.B, database db.DocDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureHas)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			database.Has(fmt.Sprintf("missing-%d", counter))
			counter++
		}
	})
}

// Benchmark for Save and Load operations
func benchmarkSaveLoad(b *testing.B, factory DBFactory) {
	database := factory()
	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureInsert|db.FeatureSave|db.FeatureLoad)

	const numKeys = 100000
	for i := 0; i < numKeys; i++ {
		database.Insert(fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf(`{"_id":%d,"v":"value"}`, i)), uint64(i+1))
	}

	var snapshot bytes.Buffer
	if err := database.Save(&snapshot); err != nil {
		b.Fatalf("Save failed: %v", err)
	}

	b.Run("Save", func(b *testing.B) {
		var buf bytes.Buffer
		for i := 0; i < b.N; i++ {
			buf.Reset()
			if err := database.Save(&buf); err != nil {
				b.Fatalf("Save failed: %v", err)
			}
		}
	})

	b.Run("Load", func(b *testing.B) {
		target := factory()
		defer target.Close()
		for i := 0; i < b.N; i++ {
			if err := target.Load(bytes.NewReader(snapshot.Bytes())); err != nil {
				b.Fatalf("Load failed: %v", err)
			}
		}
	})
}

// Benchmark for a mixed workload (70% reads, 20% inserts, 10% deletes)
func benchmarkMixedUsage(b *testing.B, database db.DocDB) {

	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureInsert|db.FeatureGet|db.FeatureDelete)

	const numKeys = 10000
	for i := 0; i < numKeys; i++ {
		database.Insert(fmt.Sprintf("key-%d", i), []byte("value"), uint64(i+1))
	}

	var idx atomic.Uint64
	idx.Store(numKeys)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := fmt.Sprintf("key-%d", r.Intn(numKeys))
			switch op := r.Intn(10); {
			case op < 7:
				database.Get(key)
			case op < 9:
				database.Insert(key, []byte("value"), idx.Add(1))
			default:
				database.Delete(key, idx.Add(1))
			}
		}
	})
}

package testing

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dDoc/lib/db"
)

// DBFactory is a function that creates a new instance of a DocDB implementation
type DBFactory func() db.DocDB

// RunDocDBTests runs a comprehensive test suite for a DocDB implementation.
func RunDocDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Insert&Get", func(t *testing.T) {
			testInsertGet(t, factory())
		})

		t.Run("Replace", func(t *testing.T) {
			testReplace(t, factory())
		})

		t.Run("Put", func(t *testing.T) {
			testPut(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Count&Range", func(t *testing.T) {
			testCountRange(t, factory())
		})

		t.Run("StaleWrites", func(t *testing.T) {
			testStaleWrites(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("LoadRejectsGarbage", func(t *testing.T) {
			testLoadRejectsGarbage(t, factory())
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("ConcurrentInsertSameKey", func(t *testing.T) {
			testConcurrentInsertSameKey(t, factory())
		})

		t.Run("RealisticUsage", func(t *testing.T) {
			testRealisticUsage(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.DocDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testInsertGet(t *testing.T, database db.DocDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureInsert|db.FeatureGet|db.FeatureHas)

	testKey := "s\"doc-1\""
	testValue1 := []byte(`{"_id":"doc-1","v":1}`)
	testValue2 := []byte(`{"_id":"doc-1","v":2}`)

	if !database.Insert(testKey, testValue1, 1) {
		t.Fatalf("Expected first Insert of %s to succeed", testKey)
	}

	result, exists := database.Get(testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after Insert", testKey)
	}
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	if database.Insert(testKey, testValue2, 2) {
		t.Errorf("Expected second Insert of %s to fail", testKey)
	}

	result, _ = database.Get(testKey)
	if !bytes.Equal(result, testValue1) {
		t.Errorf("A failed Insert must not change the value, got %s", result)
	}

	if _, exists := database.Get("nonexistent-key"); exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}
	if database.Has("nonexistent-key") {
		t.Errorf("Expected Has to return false for nonexistent key")
	}
	if !database.Has(testKey) {
		t.Errorf("Expected Has to return true for %s", testKey)
	}

	retrievedValue, _ := database.Get(testKey)
	retrievedValue[0] = 'X'

	originalValue, _ := database.Get(testKey)
	if bytes.Equal(retrievedValue, originalValue) {
		t.Errorf("Get should return a copy, not a reference to the stored value")
	}

	input := []byte(`{"_id":2}`)
	database.Insert("n2", input, 3)
	input[0] = 'X'
	stored, _ := database.Get("n2")
	if stored[0] != '{' {
		t.Errorf("Insert should copy the value, not keep a reference")
	}
}

func testReplace(t *testing.T, database db.DocDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureInsert|db.FeatureReplace|db.FeatureGet)

	if database.Replace("missing", []byte("x"), 1) {
		t.Errorf("Replace of a missing key must fail")
	}
	if database.Has("missing") {
		t.Errorf("Replace of a missing key must not create it")
	}

	database.Insert("k", []byte("v1"), 2)
	if !database.Replace("k", []byte("v2"), 3) {
		t.Errorf("Replace of an existing key must succeed")
	}

	result, _ := database.Get("k")
	if string(result) != "v2" {
		t.Errorf("Expected value v2 after Replace, got %s", result)
	}
	if database.Count() != 1 {
		t.Errorf("Replace must not change the count, got %d", database.Count())
	}
}

func testPut(t *testing.T, database db.DocDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureGet|db.FeatureCount)

	database.Put("k", []byte("v1"), 1)
	database.Put("k", []byte("v2"), 2)

	result, exists := database.Get("k")
	if !exists || string(result) != "v2" {
		t.Errorf("Expected v2 after two Puts, got %s (exists=%v)", result, exists)
	}
	if database.Count() != 1 {
		t.Errorf("Expected count 1, got %d", database.Count())
	}
}

func testDelete(t *testing.T, database db.DocDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureInsert|db.FeatureDelete|db.FeatureHas)

	if database.Delete("missing", 1) {
		t.Errorf("Delete of a missing key must return false")
	}

	database.Insert("k", []byte("v"), 2)
	if !database.Delete("k", 3) {
		t.Errorf("Delete of an existing key must return true")
	}
	if database.Has("k") {
		t.Errorf("Key must not exist after Delete")
	}
	if database.Delete("k", 4) {
		t.Errorf("Second Delete must return false")
	}

	// a deleted key can be inserted again
	if !database.Insert("k", []byte("v"), 5) {
		t.Errorf("Insert after Delete must succeed")
	}
}

func testCountRange(t *testing.T, database db.DocDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureInsert|db.FeatureDelete|db.FeatureCount|db.FeatureRange)

	const n = 500
	for i := 0; i < n; i++ {
		database.Insert(fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf("value-%d", i)), uint64(i+1))
	}
	for i := 0; i < n; i += 2 {
		database.Delete(fmt.Sprintf("key-%d", i), uint64(n+i+1))
	}

	if database.Count() != n/2 {
		t.Errorf("Expected count %d, got %d", n/2, database.Count())
	}

	seen := make(map[string]bool)
	database.Range(func(key string, value []byte, writeIdx uint64) bool {
		if seen[key] {
			t.Errorf("Range visited %s twice", key)
		}
		seen[key] = true
		if !strings.HasPrefix(string(value), "value-") {
			t.Errorf("Unexpected value %s for %s", value, key)
		}
		if writeIdx == 0 {
			t.Errorf("Range must report the write index of %s", key)
		}
		return true
	})
	if len(seen) != n/2 {
		t.Errorf("Expected Range to visit %d entries, visited %d", n/2, len(seen))
	}

	visited := 0
	database.Range(func(string, []byte, uint64) bool {
		visited++
		return visited < 10
	})
	if visited != 10 {
		t.Errorf("Range must stop when fn returns false, visited %d", visited)
	}
}

func testStaleWrites(t *testing.T, database db.DocDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureInsert|db.FeatureReplace|db.FeaturePut|db.FeatureDelete)

	database.Insert("k", []byte("v10"), 10)

	if database.Replace("k", []byte("v5"), 5) {
		t.Errorf("Replace with a lower write index must be ignored")
	}
	database.Put("k", []byte("v6"), 6)
	if database.Delete("k", 7) {
		t.Errorf("Delete with a lower write index must be ignored")
	}

	result, _ := database.Get("k")
	if string(result) != "v10" {
		t.Errorf("Stale writes changed the value to %s", result)
	}

	// same index is not stale (replay of the record itself)
	database.Put("k", []byte("v10"), 10)
	if database.WriteIdx() != 10 {
		t.Errorf("Expected write index 10, got %d", database.WriteIdx())
	}

	database.SetWriteIdx(3)
	if database.WriteIdx() != 10 {
		t.Errorf("Write index must never decrease, got %d", database.WriteIdx())
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	database := factory()
	defer database.Close()

	requireFeature(t, database, db.FeatureSave|db.FeatureLoad|db.FeatureInsert|db.FeatureCount)

	const n = 1000
	for i := 0; i < n; i++ {
		database.Insert(fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf("value-%d", i)), uint64(i+1))
	}
	database.Delete("key-0", n+1)

	var buf bytes.Buffer
	if err := database.Save(&buf); err != nil {
		t.Fatalf("Unexpected error during Save: %v", err)
	}

	database2 := factory()
	defer database2.Close()

	// content of the target is replaced
	database2.Insert("leftover", []byte("x"), 1)

	if err := database2.Load(&buf); err != nil {
		t.Fatalf("Unexpected error during Load: %v", err)
	}

	if database2.Count() != n-1 {
		t.Errorf("Expected count %d after Load, got %d", n-1, database2.Count())
	}
	if database2.Has("leftover") {
		t.Errorf("Load must replace the existing content")
	}
	if database2.Has("key-0") {
		t.Errorf("Deleted key must not be restored")
	}
	for i := 1; i < n; i++ {
		key := fmt.Sprintf("key-%d", i)
		value, exists := database2.Get(key)
		if !exists {
			t.Errorf("Key %s not found after Load", key)
			continue
		}
		if string(value) != fmt.Sprintf("value-%d", i) {
			t.Errorf("Expected value-%d for %s, got %s", i, key, value)
		}
	}
	if database2.WriteIdx() != database.WriteIdx() {
		t.Errorf("Expected write index %d after Load, got %d", database.WriteIdx(), database2.WriteIdx())
	}

	// the loaded entries keep their write index
	if database2.Replace("key-5", []byte("stale"), 2) {
		t.Errorf("Loaded entries must keep their write index")
	}
}

func testLoadRejectsGarbage(t *testing.T, database db.DocDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureLoad)

	if err := database.Load(bytes.NewReader([]byte("definitely not a snapshot"))); err == nil {
		t.Errorf("Expected an error when loading garbage")
	}
	if err := database.Load(bytes.NewReader(nil)); err == nil {
		t.Errorf("Expected an error when loading an empty snapshot")
	}
}

func testEdgeCases(t *testing.T, database db.DocDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureInsert|db.FeatureGet)

	// empty key and empty value
	if !database.Insert("", []byte{}, 1) {
		t.Errorf("Insert with empty key must succeed")
	}
	if value, exists := database.Get(""); !exists || len(value) != 0 {
		t.Errorf("Expected empty value for empty key, got %v (exists=%v)", value, exists)
	}

	// long key
	longKey := strings.Repeat("k", 64*1024)
	database.Insert(longKey, []byte("long"), 2)
	if value, _ := database.Get(longKey); string(value) != "long" {
		t.Errorf("Long key lookup failed, got %s", value)
	}

	// binary keys that differ only in the last byte
	k1, k2 := "{\x00a", "{\x00b"
	database.Insert(k1, []byte("1"), 3)
	database.Insert(k2, []byte("2"), 4)
	v1, _ := database.Get(k1)
	v2, _ := database.Get(k2)
	if string(v1) != "1" || string(v2) != "2" {
		t.Errorf("Keys %q and %q must not collide, got %s and %s", k1, k2, v1, v2)
	}

	// large value
	large := bytes.Repeat([]byte("x"), 1<<20)
	database.Insert("large", large, 5)
	if value, _ := database.Get("large"); !bytes.Equal(value, large) {
		t.Errorf("Large value was not stored correctly")
	}
}

func testConcurrentInsertSameKey(t *testing.T, database db.DocDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureInsert|db.FeatureCount)

	const workers = 64
	var (
		wins atomic.Int32
		wg   sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if database.Insert("same", []byte(fmt.Sprintf("v%d", i)), uint64(i+1)) {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("Expected exactly one successful Insert, got %d", wins.Load())
	}
	if database.Count() != 1 {
		t.Errorf("Expected count 1, got %d", database.Count())
	}
}

func testRealisticUsage(t *testing.T, database db.DocDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureInsert|db.FeatureReplace|db.FeatureDelete|db.FeatureGet|db.FeatureCount)

	const (
		workers   = 8
		perWorker = 500
	)

	var (
		wg         sync.WaitGroup
		errorCount int32
		writeIdx   atomic.Uint64
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := fmt.Sprintf("w%d-k%d", w, i)
				if !database.Insert(key, []byte("v1"), writeIdx.Add(1)) {
					atomic.AddInt32(&errorCount, 1)
					continue
				}
				if !database.Replace(key, []byte("v2"), writeIdx.Add(1)) {
					atomic.AddInt32(&errorCount, 1)
				}
				if value, _ := database.Get(key); string(value) != "v2" {
					atomic.AddInt32(&errorCount, 1)
				}
				if i%4 == 0 && !database.Delete(key, writeIdx.Add(1)) {
					atomic.AddInt32(&errorCount, 1)
				}
			}
		}(w)
	}
	wg.Wait()

	if atomic.LoadInt32(&errorCount) > 0 {
		t.Errorf("Encountered %d errors during realistic usage", errorCount)
	}

	expected := workers * (perWorker - perWorker/4)
	if database.Count() != expected {
		t.Errorf("Expected count %d, got %d", expected, database.Count())
	}
}

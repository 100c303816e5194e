// Package testing holds the conformance suite every db.DocDB implementation
// runs, plus a set of benchmarks for the same operations.
//
// An engine registers itself with a factory:
//
//	func TestMyEngine(t *testing.T) {
//		dbtesting.RunDocDBTests(t, "MyEngine", func() db.DocDB { return NewMyEngine() })
//	}
//
//	func BenchmarkMyEngine(b *testing.B) {
//		dbtesting.RunDocDBBenchmarks(b, "MyEngine", func() db.DocDB { return NewMyEngine() })
//	}
package testing

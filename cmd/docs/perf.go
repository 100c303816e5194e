package docs

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/doc"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dDoc servers",
		Args:    cobra.NoArgs,
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfCollection       = "__perf"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfSkip             = make([]string, 0)
)

// perfTest is a single benchmark. setup runs before the timer starts, the
// collection is dropped after each test.
type perfTest struct {
	name  string
	setup bool
	op    func(id int) error
}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. insert,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the payload field for the insert-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different _ids to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for dDoc servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	largeValue := strings.Repeat("x", perfLargeValueSizeKB*1024)

	tests := []perfTest{
		{name: "insert", op: func(id int) error {
			_, err := rpcStore.Insert(perfCollection, doc.New(doc.F("value", "test")))
			return err
		}},
		{name: "insert-large", op: func(id int) error {
			_, err := rpcStore.Insert(perfCollection, doc.New(doc.F("value", largeValue)))
			return err
		}},
		{name: "get", setup: true, op: func(id int) error {
			_, _, err := rpcStore.Get(perfCollection, int64(id))
			return err
		}},
		{name: "get-missing", op: func(id int) error {
			_, _, err := rpcStore.Get(perfCollection, int64(id))
			return err
		}},
		{name: "update", setup: true, op: func(id int) error {
			_, err := rpcStore.Update(perfCollection, doc.New(doc.F("_id", int64(id)), doc.F("value", "updated")))
			return err
		}},
		{name: "delete", setup: true, op: func(id int) error {
			_, err := rpcStore.Delete(perfCollection, int64(id))
			return err
		}},
		{name: "mixed", setup: true, op: func(id int) error {
			var err error
			switch id % 4 {
			case 0:
				_, err = rpcStore.Update(perfCollection, doc.New(doc.F("_id", int64(id)), doc.F("value", "mixed")))
			case 1:
				_, _, err = rpcStore.Get(perfCollection, int64(id))
			case 2:
				_, err = rpcStore.Delete(perfCollection, int64(id))
			case 3:
				_, err = rpcStore.Count(perfCollection)
			}
			return err
		}},
	}

	// Create results map
	results := make(map[string]testing.BenchmarkResult)

	for _, test := range tests {
		if shouldSkip(test.name) {
			results[test.name] = testing.BenchmarkResult{}
			printResult(test.name, testing.BenchmarkResult{})
			continue
		}
		result := testing.Benchmark(func(b *testing.B) {
			if test.setup {
				seedDocuments(test.name)
			}

			b.Cleanup(func() {
				if _, err := rpcStore.Drop(perfCollection); err != nil {
					log.Printf("(%s) - error dropping collection: %v\n", test.name, err)
				}
			})

			b.SetParallelism(perfNumThreads)
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				counter := 0
				for pb.Next() {
					if err := test.op(counter % perfKeySpread); err != nil {
						log.Printf("(%s) - error: %v\n", test.name, err)
					}
					counter++
				}
			})
		})
		results[test.name] = result
		printResult(test.name, result)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	return slices.Contains(perfSkip, test)
}

// seedDocuments inserts the documents with _id 0 to perfKeySpread-1 in batches
func seedDocuments(test string) {
	const batchSize = 1000
	for start := 0; start < perfKeySpread; start += batchSize {
		batch := make([]doc.Document, 0, batchSize)
		for id := start; id < min(start+batchSize, perfKeySpread); id++ {
			batch = append(batch, doc.New(doc.F("_id", int64(id)), doc.F("value", "test")))
		}
		if _, err := rpcStore.Insert(perfCollection, batch...); err != nil {
			log.Printf("(%s) - error inserting documents: %v\n", test, err)
		}
	}
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"DatabaseID", "Serializer", "Transport",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp, opsPerSec float64
		skipped := result.NsPerOp() == 0
		if !skipped {
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			strconv.FormatBool(skipped),
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			strconv.Itoa(config.ConnectionsPerEndpoint),
			strconv.FormatUint(util.GetDatabaseID(), 10),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}

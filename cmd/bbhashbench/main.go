// Command bbhashbench measures BBHash build throughput, query latency,
// and bits-per-key for a synthetic integer key set.
//
// Usage:
//
//	go run ./cmd/bbhashbench -keys 10000000 -gamma 2.0 -workers 4 -hasher murmur3
//
// Flags:
//
//	-keys     Number of keys to index (default: 1,000,000)
//	-gamma    Load-factor multiplier (default: 2.0)
//	-workers  Number of parallel build workers (default: 1)
//	-hasher   Hash family: xxh3, murmur3, intmix (default: xxh3)
//	-seed     Master seed for the build (default: 0x1234567890abcdef)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bbhash-go/bbhash"
	"github.com/bbhash-go/bbhash/internal/hashfamily"
)

func selectHasher(name string) (hashfamily.Hasher, error) {
	switch name {
	case "xxh3":
		return hashfamily.XXH3{}, nil
	case "murmur3":
		return hashfamily.Murmur3{}, nil
	case "intmix":
		return hashfamily.IntegerMix{}, nil
	default:
		return nil, fmt.Errorf("unknown hasher %q (want xxh3, murmur3, or intmix)", name)
	}
}

func main() {
	keysFlag := flag.Int("keys", 1_000_000, "number of keys")
	gammaFlag := flag.Float64("gamma", 2.0, "load-factor multiplier")
	workersFlag := flag.Int("workers", 1, "number of parallel build workers")
	hasherFlag := flag.String("hasher", "xxh3", "hash family: xxh3, murmur3, intmix")
	seedFlag := flag.Uint64("seed", 0x1234567890abcdef, "master seed")
	flag.Parse()

	hasher, err := selectHasher(*hasherFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("Generating %d keys...\n", *keysFlag)
	ids := make([]uint64, *keysFlag)
	for i := range ids {
		ids[i] = uint64(i)
	}
	src := bbhash.NewUint64KeySource(ids)

	fmt.Println("Building cascade...")
	buildStart := time.Now()
	b, err := bbhash.NewBuilder(context.Background(), src,
		bbhash.WithGamma(*gammaFlag),
		bbhash.WithWorkers(*workersFlag),
		bbhash.WithMasterSeed(*seedFlag),
		bbhash.WithHasher(hasher),
		bbhash.WithProgress(bbhash.NewLogProgress(os.Stdout)),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "new builder:", err)
		os.Exit(1)
	}
	cascade, err := b.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "build:", err)
		os.Exit(1)
	}
	buildDuration := time.Since(buildStart)

	fmt.Println("Querying every key...")
	queryStart := time.Now()
	seen := make([]bool, cascade.NumKeys())
	var buf [8]byte
	for _, id := range ids {
		putUint64LE(buf[:], id)
		rank := cascade.Lookup(buf[:])
		if rank >= cascade.NumKeys() {
			fmt.Fprintf(os.Stderr, "key %d: rank %d out of range\n", id, rank)
			os.Exit(1)
		}
		if seen[rank] {
			fmt.Fprintf(os.Stderr, "key %d: rank %d collided with another key\n", id, rank)
			os.Exit(1)
		}
		seen[rank] = true
	}
	queryDuration := time.Since(queryStart)

	fmt.Printf("\nResults:\n")
	fmt.Printf("  keys:            %d\n", *keysFlag)
	fmt.Printf("  gamma:           %.2f\n", *gammaFlag)
	fmt.Printf("  workers:         %d\n", *workersFlag)
	fmt.Printf("  hasher:          %s\n", *hasherFlag)
	fmt.Printf("  levels:          %d\n", cascade.NumLevels())
	fmt.Printf("  fallback used:   %v\n", cascade.HasFallback())
	fmt.Printf("  build time:      %s (%.0f keys/sec)\n", buildDuration, float64(*keysFlag)/buildDuration.Seconds())
	fmt.Printf("  query time:      %s (%.0f keys/sec)\n", queryDuration, float64(*keysFlag)/queryDuration.Seconds())

	tmp, err := os.CreateTemp("", "bbhashbench-*.bbh")
	if err == nil {
		defer os.Remove(tmp.Name())
		defer tmp.Close()
		if err := bbhash.Save(tmp, cascade); err == nil {
			if stat, err := tmp.Stat(); err == nil {
				bitsPerKey := float64(stat.Size()*8) / float64(*keysFlag)
				fmt.Printf("  serialized size: %d bytes (%.2f bits/key)\n", stat.Size(), bitsPerKey)
			}
		}
	}
}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

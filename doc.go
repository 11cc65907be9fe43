// Package bbhash implements BBHash, a Minimal Perfect Hash Function
// (MPHF) construction and lookup library.
//
// An MPHF maps N distinct keys bijectively onto [0, N-1]. BBHash builds
// this mapping as a cascade of bit-arrays: level 0 hashes every key into
// a bit-array sized to roughly gamma*N bits; positions hit by exactly
// one key are kept, positions hit by more than one key are cleared and
// those keys cascade to level 1, and so on until either no keys remain
// or a level cap is reached, at which point any leftover keys go into an
// explicit fallback table.
//
// # Building
//
//	src := bbhash.NewUint64KeySource(ids)
//	b, err := bbhash.NewBuilder(ctx, src, bbhash.WithGamma(2.0), bbhash.WithWorkers(4))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cascade, err := b.Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Querying
//
//	rank := cascade.Lookup(key)
//
// # Persisting
//
//	f, _ := os.Create("cascade.bbh")
//	bbhash.Save(f, cascade)
//	f.Close()
//
//	idx, _ := bbhash.Open("cascade.bbh")
//	defer idx.Close()
//	rank := idx.Lookup(key)
//
// # Package structure
//
//   - Public API: builder.go (NewBuilder, Build), cascade.go (Lookup),
//     serializer.go (Save, Load), index.go (Open, OpenFile, mmap Lookup)
//   - Configuration: builder_options.go (BuildOption, With* functions)
//   - Keys: keysource.go (KeySource, PreHash), residual.go (spill-backed
//     residual accumulation between levels)
//   - Core algorithm: level.go, fallback.go, internal/bitutil (BitArray)
//   - Hash family: internal/hashfamily (XXH3, Murmur3, IntegerMix)
//   - Parallel build: builder_parallel.go (fill/residual worker pools)
package bbhash

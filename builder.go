package bbhash

import (
	"context"
	"slices"
	"sync/atomic"

	bbherrors "github.com/bbhash-go/bbhash/errors"
	"github.com/bbhash-go/bbhash/internal/bitutil"
)

// Builder owns the cascade under construction: the key source, a
// per-level scratch collision array, and the worker pool driving the
// fill → finalize → residual pipeline (spec §3 "Builder state", §4.4).
// A Builder is single-use: call Build once.
type Builder struct {
	ctx    context.Context
	src    KeySource
	cfg    *buildConfig
	closed atomic.Bool
}

// NewBuilder creates a Builder over src, configured by opts. src must
// report Len() == N, the size of the first level's input.
func NewBuilder(ctx context.Context, src KeySource, opts ...BuildOption) (*Builder, error) {
	cfg := defaultBuildConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	// spec.md's error-kinds section says gamma <= 1.0 is invalid, but its
	// own testable-properties section builds scenario 5 at gamma == 1.0
	// ("expect higher residual volume"). We resolve the conflict in favor
	// of the concrete scenario: gamma == 1.0 is legal (if inefficient),
	// only gamma < 1.0 is rejected. See DESIGN.md.
	if cfg.gamma < 1.0 {
		return nil, bbherrors.ErrInvalidGamma
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Builder{ctx: ctx, src: src, cfg: cfg}, nil
}

// Build runs the full cascade construction (spec §4.2/§4.4): fill each
// level in parallel, finalize by clearing collisions and building the
// rank directory, extract the residual, and recurse until either no
// keys remain or the level cap is reached; any remaining keys go to the
// fallback table. Returns the completed, immutable Cascade.
//
// Build may only be called once per Builder; a second call returns
// ErrBuilderClosed.
func (b *Builder) Build() (*Cascade, error) {
	if !b.closed.CompareAndSwap(false, true) {
		return nil, bbherrors.ErrBuilderClosed
	}

	cfg := b.cfg
	numKeys := b.src.Len()
	// spec.md §8 Boundary behaviors: "N = 0 -> empty cascade; lookup
	// domain is empty." Build succeeds with a cascade that has no levels
	// and no fallback table; Lookup on it always falls through to 0.
	if numKeys == 0 {
		cfg.progress.Init(0, "bbhash-build", cfg.workers)
		cfg.progress.Finish()
		return &Cascade{
			gamma:         cfg.gamma,
			lastLevelSeed: cfg.masterSeed,
			hasher:        cfg.hasher,
		}, nil
	}

	if cfg.duplicateCheck {
		if err := checkDuplicateKeys(b.src); err != nil {
			return nil, err
		}
	}

	cfg.progress.Init(numKeys, "bbhash-build", cfg.workers)
	defer cfg.progress.Finish()

	var levels []*level
	var rankOffset uint64
	lastSeed := cfg.masterSeed
	keysSrc := b.src

	var cleanups []func() error
	defer func() {
		for _, fn := range cleanups {
			_ = fn()
		}
	}()

	for lvlIdx := 0; lvlIdx < cfg.levelCap; lvlIdx++ {
		if err := keysSrc.Rewind(); err != nil {
			return nil, err
		}
		inputCount := keysSrc.Len()
		if inputCount == 0 {
			break
		}

		size := levelSize(cfg.gamma, inputCount)
		seed := deriveSeed(cfg.masterSeed, lvlIdx)
		lastSeed = seed

		bits := bitutil.New(size)
		collisions := bitutil.New(size)
		lv := &level{index: lvlIdx, sizeInBits: size, seed: seed, rankOffset: rankOffset, bits: bits}

		drained, err := fillLevel(b.ctx, lv, collisions, keysSrc, cfg)
		if err != nil {
			return nil, err
		}
		if drained != inputCount {
			return nil, bbherrors.ErrKeyCountMismatch
		}

		bits.ClearCollisions(0, size, collisions)
		rankOffset = bits.BuildRanks(lv.rankOffset)

		if err := keysSrc.Rewind(); err != nil {
			return nil, err
		}
		sink := newResidualSink(cfg.memoryBudget, cfg.spillDir)
		if err := residualLevel(b.ctx, lv, keysSrc, cfg, sink); err != nil {
			return nil, err
		}

		levels = append(levels, lv)

		nextSrc, cleanup, err := sink.seal()
		if err != nil {
			return nil, err
		}
		cleanups = append(cleanups, cleanup)
		keysSrc = nextSrc

		if keysSrc.Len() == 0 {
			break
		}
	}

	var fallback *fallbackTable
	if keysSrc.Len() > 0 {
		fallback = newFallbackTable(lastSeed)
		if err := keysSrc.Rewind(); err != nil {
			return nil, err
		}
		var hashes []uint64
		for {
			key, ok := keysSrc.Next()
			if !ok {
				break
			}
			hashes = append(hashes, cfg.hasher.Hash64(key, lastSeed))
		}
		// Indices follow hash order rather than input order, so the same
		// key multiset yields the same table whatever order it came in.
		slices.Sort(hashes)
		for _, h := range hashes {
			fallback.put(h, rankOffset)
			rankOffset++
		}
	}

	return &Cascade{
		gamma:         cfg.gamma,
		numKeys:       numKeys,
		lastLevelSeed: lastSeed,
		levels:        levels,
		fallback:      fallback,
		hasher:        cfg.hasher,
	}, nil
}

// checkDuplicateKeys implements the optional InvalidInput check spec §7
// allows: a single pass over src, pre-hashing every key to 128 bits and
// recording it, reporting ErrDuplicateKey on the first repeat. A 128-bit
// digest collision between two distinct keys is astronomically
// unlikely, so this is treated as an exact duplicate check in practice.
// Rewinds src back to the start before returning, so the caller's own
// level-0 pass sees every key.
func checkDuplicateKeys(src KeySource) error {
	if err := src.Rewind(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, src.Len())
	for {
		key, ok := src.Next()
		if !ok {
			break
		}
		digest := string(PreHash(key))
		if _, dup := seen[digest]; dup {
			return bbherrors.ErrDuplicateKey
		}
		seen[digest] = struct{}{}
	}
	return src.Rewind()
}

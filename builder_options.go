package bbhash

import "github.com/bbhash-go/bbhash/internal/hashfamily"

const (
	defaultGamma        = 2.0
	defaultLevelCap     = 25
	defaultBlockSize    = 64 * 1024 // 64K keys per block, per spec §4.4
	defaultMasterSeed   = 0x1234567890abcdef
	defaultMemoryBudget = 0 // 0 = unbounded, never spill
)

// BuildOption is a functional option for configuring a Builder.
type BuildOption func(*buildConfig)

type buildConfig struct {
	gamma          float64
	workers        int
	masterSeed     uint64
	levelCap       int
	blockSize      int
	progress       ProgressReporter
	hasher         hashfamily.Hasher
	memoryBudget   uint64 // bytes; 0 disables spill
	spillDir       string
	duplicateCheck bool
}

func defaultBuildConfig() *buildConfig {
	return &buildConfig{
		gamma:        defaultGamma,
		workers:      1,
		masterSeed:   defaultMasterSeed,
		levelCap:     defaultLevelCap,
		blockSize:    defaultBlockSize,
		progress:     NopProgress{},
		hasher:       hashfamily.Default(),
		memoryBudget: defaultMemoryBudget,
	}
}

// WithGamma sets the load-factor multiplier (spec §3 "gamma"). Must be
// at least 1.0; NewBuilder reports ErrInvalidGamma otherwise.
func WithGamma(gamma float64) BuildOption {
	return func(c *buildConfig) { c.gamma = gamma }
}

// WithWorkers sets the number of parallel fill/residual workers (spec §5
// "W configurable >= 1").
func WithWorkers(n int) BuildOption {
	return func(c *buildConfig) {
		if n < 1 {
			n = 1
		}
		c.workers = n
	}
}

// WithMasterSeed sets the master seed from which every level's seed is
// derived (spec §4.2 "derived deterministically from a master seed").
// Two builds with the same master seed, gamma, and key multiset produce
// byte-identical serialized output.
func WithMasterSeed(seed uint64) BuildOption {
	return func(c *buildConfig) { c.masterSeed = seed }
}

// WithLevelCap sets the maximum number of cascade levels attempted
// before residual keys are routed to the fallback table (spec §4.2
// "commonly 25").
func WithLevelCap(cap int) BuildOption {
	return func(c *buildConfig) { c.levelCap = cap }
}

// WithBlockSize sets the number of keys per dispatched work block (spec
// §4.4).
func WithBlockSize(n int) BuildOption {
	return func(c *buildConfig) {
		if n < 1 {
			n = 1
		}
		c.blockSize = n
	}
}

// WithProgress attaches a ProgressReporter, invoked at block granularity
// during the fill and residual phases (spec §6).
func WithProgress(p ProgressReporter) BuildOption {
	return func(c *buildConfig) { c.progress = p }
}

// WithHasher overrides the default hash family (hashfamily.XXH3). All
// consumers of a serialized cascade must agree on the hasher used to
// build it, since Lookup re-derives positions from scratch.
func WithHasher(h hashfamily.Hasher) BuildOption {
	return func(c *buildConfig) { c.hasher = h }
}

// WithMemoryBudget bounds the in-RAM size of a level's residual buffer,
// in bytes. Once exceeded, residuals for that level spill to a temp file
// under the directory set by WithSpillDir (default os.TempDir()). Zero
// (the default) never spills.
func WithMemoryBudget(bytes uint64) BuildOption {
	return func(c *buildConfig) { c.memoryBudget = bytes }
}

// WithSpillDir sets the directory used for on-disk residual spill files
// when WithMemoryBudget is exceeded.
func WithSpillDir(dir string) BuildOption {
	return func(c *buildConfig) { c.spillDir = dir }
}

// WithDuplicateCheck enables the optional pre-build pass spec §7 allows
// for InvalidInput detection: every key is pre-hashed to 128 bits and
// checked against every key seen so far, and Build reports
// ErrDuplicateKey on the first repeat. Disabled by default, since it
// costs a full extra pass plus O(N) memory before construction starts.
func WithDuplicateCheck(enable bool) BuildOption {
	return func(c *buildConfig) { c.duplicateCheck = enable }
}

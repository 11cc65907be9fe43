package bbhash

import (
	"context"

	"golang.org/x/sync/errgroup"

	bbherrors "github.com/bbhash-go/bbhash/errors"
	"github.com/bbhash-go/bbhash/internal/bitutil"
)

// fillBlock is a chunk of keys dispatched to a fill-phase worker.
type fillBlock struct {
	blockID uint64
	keys    [][]byte
}

// fillLevel implements spec §4.4's fill phase: chunk the level's input
// into blocks, dispatch them to cfg.workers goroutines, each of which
// calls atomic_test_and_set on bits and folds first-time collisions into
// collisions. Fill order never affects the resulting bit pattern (OR and
// CAS-based test-and-set are both order-independent on distinct keys),
// so blocks are consumed by whichever worker is free — no result
// ordering is needed here, unlike residualLevel.
//
// It returns the number of keys actually drained from keys, so the
// caller can confirm it matches the count keys.Len() declared up front.
func fillLevel(ctx context.Context, lv *level, collisions *bitutil.BitArray, keys KeySource, cfg *buildConfig) (uint64, error) {
	blocks := make(chan fillBlock, cfg.workers*2)
	group, gctx := errgroup.WithContext(ctx)

	for w := 0; w < cfg.workers; w++ {
		workerID := w
		group.Go(func() error {
			for block := range blocks {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				for _, key := range block.keys {
					h := cfg.hasher.Hash64(key, lv.seed)
					p := lv.position(h)
					if collisions.Get(p) == 1 {
						continue
					}
					if prior := lv.bits.TestAndSet(p); prior == 1 {
						collisions.Set(p)
					}
				}
				cfg.progress.Inc(uint64(len(block.keys)), workerID)
			}
			return nil
		})
	}

	drained, dispatchErr := dispatchBlocks(gctx, keys, cfg.blockSize, blocks)
	close(blocks)

	if err := group.Wait(); err != nil {
		return drained, err
	}
	return drained, dispatchErr
}

// residualResult carries the keys of one dispatched block that a
// residual-phase worker found unplaced at this level, tagged with that
// block's ID.
type residualResult struct {
	blockID  uint64
	residual [][]byte
}

// residualLevel implements spec §4.4's residual phase: re-scan the
// level's input, routing each key whose bit did not survive collision
// finalization into sink. Blocks are processed concurrently by workers,
// but a single writer goroutine merges results back in blockID order
// (the same ordered-pending-map technique the teacher's runWriter uses
// for streaming payload hashes) so the residual order — and therefore
// the order in which every downstream level reads its input — is
// identical regardless of worker count.
func residualLevel(ctx context.Context, lv *level, keys KeySource, cfg *buildConfig, sink *residualSink) error {
	blocks := make(chan fillBlock, cfg.workers*2)
	results := make(chan residualResult, cfg.workers*2)
	group, gctx := errgroup.WithContext(ctx)

	for w := 0; w < cfg.workers; w++ {
		workerID := w
		group.Go(func() error {
			for block := range blocks {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				var residual [][]byte
				for _, key := range block.keys {
					h := cfg.hasher.Hash64(key, lv.seed)
					p := lv.position(h)
					if lv.bits.Get(p) == 0 {
						residual = append(residual, key)
					}
				}
				cfg.progress.Inc(uint64(len(block.keys)), workerID)
				select {
				case results <- residualResult{blockID: block.blockID, residual: residual}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	writerErrCh := make(chan error, 1)
	go func() {
		writerErrCh <- mergeResidualResults(results, sink)
	}()

	_, dispatchErr := dispatchBlocks(gctx, keys, cfg.blockSize, blocks)
	close(blocks)

	groupErr := group.Wait()
	close(results)
	writerErr := <-writerErrCh

	if dispatchErr != nil {
		return dispatchErr
	}
	if groupErr != nil {
		return groupErr
	}
	return writerErr
}

// mergeResidualResults drains results in strict blockID order, calling
// sink.put for every residual key of each block as it becomes the next
// expected block. This is the single point of mutation for sink, so
// residualSink itself needs no internal locking.
func mergeResidualResults(results <-chan residualResult, sink *residualSink) error {
	pending := make(map[uint64]residualResult)
	next := uint64(0)

	emit := func(r residualResult) error {
		for _, key := range r.residual {
			if err := sink.put(key); err != nil {
				return err
			}
		}
		return nil
	}

	for r := range results {
		pending[r.blockID] = r
		for ready, ok := pending[next]; ok; ready, ok = pending[next] {
			delete(pending, next)
			if err := emit(ready); err != nil {
				return err
			}
			next++
		}
	}
	return nil
}

// dispatchBlocks reads keys sequentially from a single goroutine (the
// caller), grouping them into blockSize-sized blocks with monotonically
// increasing blockIDs, and sends them to blocks. Reading the KeySource
// from a single goroutine keeps KeySource implementations (including
// the on-disk spill.Spill) free of any concurrency requirement.
//
// It returns the total number of keys read, so callers can cross-check
// it against the count the KeySource declared via Len().
func dispatchBlocks(ctx context.Context, keys KeySource, blockSize int, blocks chan<- fillBlock) (uint64, error) {
	blockID := uint64(0)
	total := uint64(0)
	buf := make([][]byte, 0, blockSize)

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		block := fillBlock{blockID: blockID, keys: buf}
		select {
		case blocks <- block:
		case <-ctx.Done():
			return ctx.Err()
		}
		blockID++
		buf = make([][]byte, 0, blockSize)
		return nil
	}

	for {
		key, ok := keys.Next()
		if !ok {
			break
		}
		if len(key) == 0 {
			return total, bbherrors.ErrKeyTooShort
		}
		buf = append(buf, append([]byte(nil), key...))
		total++
		if len(buf) >= blockSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	return total, flush()
}

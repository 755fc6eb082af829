package emit

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/xpirt/blockimgdiff/rangeset"
	"github.com/xpirt/blockimgdiff/transfer"
)

// patchJob is one pending diff-family transfer awaiting an external differ
// invocation. patchNum is assigned by enqueue order (§6's "patch_num"
// field, used to place this job's output within the patch blob).
type patchJob struct {
	id       transfer.ID
	tgtSize  rangeset.Block
	patchNum int
}

// jobQueue hands out the largest-tgt_size job first: bsdiff/imgdiff cost
// scales with input size, so starting the biggest jobs first keeps the
// worker pool's tail latency down (§6, worker pool).
type jobQueue struct {
	mu   sync.Mutex
	jobs []patchJob
}

func newJobQueue(jobs []patchJob) *jobQueue {
	sorted := append([]patchJob(nil), jobs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].tgtSize < sorted[j].tgtSize })
	return &jobQueue{jobs: sorted}
}

func (q *jobQueue) pop() (patchJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return patchJob{}, false
	}
	j := q.jobs[len(q.jobs)-1]
	q.jobs = q.jobs[:len(q.jobs)-1]
	return j, true
}

// runPool starts numWorkers goroutines, each repeatedly popping the largest
// remaining job and running process on it, until the queue is drained or
// process returns an error — the first such error cancels the errgroup's
// context, so every other worker refuses its next pop; process itself runs
// under the caller's ctx, so in-flight differ invocations are not
// interrupted, per §6.
func runPool(ctx context.Context, numWorkers int, queue *jobQueue, process func(ctx context.Context, j patchJob) error) error {
	if numWorkers < 1 {
		numWorkers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < numWorkers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				j, ok := queue.pop()
				if !ok {
					return nil
				}
				if err := process(ctx, j); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}

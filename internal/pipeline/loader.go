// Package pipeline runs batches of prompts through the resolution engine.
package pipeline

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/theirongolddev/cbuddy/internal/engine"
	"github.com/theirongolddev/cbuddy/internal/model"
)

// Submitter is the part of the engine a batch needs.
type Submitter interface {
	Submit(ctx context.Context, p model.PromptRecord) (engine.Result, error)
}

// Item is one prompt of a batch and what became of it.
type Item struct {
	Prompt model.PromptRecord
	Result engine.Result
	Err    error
}

// ProgressFunc is called as prompts finish.
// current is the number of prompts processed so far, total is the total count.
type ProgressFunc func(current, total int)

// Resolve submits every prompt using a bounded worker pool and returns the
// items in input order.
func Resolve(ctx context.Context, sub Submitter, prompts []model.PromptRecord, progressFn ProgressFunc) []Item {
	if len(prompts) == 0 {
		return nil
	}

	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers < 1 {
		numWorkers = 4
	}
	if numWorkers > len(prompts) {
		numWorkers = len(prompts)
	}

	work := make(chan int, len(prompts))
	items := make([]Item, len(prompts))
	var wg sync.WaitGroup
	var processed atomic.Int64

	for i := range prompts {
		work <- i
	}
	close(work)

	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func() {
			defer wg.Done()
			for idx := range work {
				items[idx].Prompt = prompts[idx]
				if err := ctx.Err(); err != nil {
					items[idx].Err = err
				} else {
					items[idx].Result, items[idx].Err = sub.Submit(ctx, prompts[idx])
				}
				n := processed.Add(1)
				if progressFn != nil {
					progressFn(int(n), len(prompts))
				}
			}
		}()
	}

	wg.Wait()
	return items
}

// Last returns the final n prompts, or all of them when n <= 0.
func Last(prompts []model.PromptRecord, n int) []model.PromptRecord {
	if n <= 0 || n >= len(prompts) {
		return prompts
	}
	return prompts[len(prompts)-n:]
}

// Counts tallies the outcomes of a batch.
type Counts struct {
	Resolved int
	Pending  int
	Failed   int
}

// Tally counts resolved (including cached), pending and failed items.
// Abandoned prompts count as failed.
func Tally(items []Item) Counts {
	var c Counts
	for _, it := range items {
		switch {
		case it.Err != nil:
			c.Failed++
		case it.Result.Outcome == engine.Resolved || it.Result.Outcome == engine.Cached:
			c.Resolved++
		case it.Result.Outcome == engine.Pending:
			c.Pending++
		default:
			c.Failed++
		}
	}
	return c
}

// ReplySource looks up replies that arrived after a batch was submitted.
type ReplySource interface {
	Reply(fp string) (model.ResolvedReply, bool)
}

// Settle marks pending items whose reply has since been resolved.
func Settle(items []Item, src ReplySource) {
	for i := range items {
		it := &items[i]
		if it.Err != nil || it.Result.Outcome != engine.Pending {
			continue
		}
		if r, ok := src.Reply(it.Result.Fingerprint); ok {
			it.Result.Outcome = engine.Resolved
			it.Result.Reply = r
		}
	}
}

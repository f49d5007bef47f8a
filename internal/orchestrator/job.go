// Package orchestrator implements the ATFP Orchestrator: the per-RPC-job
// state machine wiring one source File Processor and N destination File
// Processors through init, process, commit and teardown.
//
// Setup completion is barriered with an errgroup.Group: the first setup
// error cancels the rest and is returned. The processing loop drives the
// source to completion, then steps every live destination one cycle at
// a time, barriered per cycle with a sync.WaitGroup, until every
// destination reports done. See DESIGN.md for the rationale.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/metalalive/atfp-go/internal/domain/model"
	"github.com/metalalive/atfp-go/internal/domain/repository"
	"github.com/metalalive/atfp-go/internal/fileproc"
	"github.com/metalalive/atfp-go/internal/fileproc/hls"
	"github.com/metalalive/atfp-go/internal/staging"
)

// DestinationSlot is one bounded entry in the job's destination array: a
// version label, its resolved Processor, and whether this destination
// was dropped pre-init by the dedup check.
type DestinationSlot struct {
	Label     model.VersionLabel
	Processor fileproc.Processor
	Dropped   bool
	working   bool
}

// Job wires one source Processor and its destination slots through the
// full transcode lifecycle for a single TranscodeJob message.
type Job struct {
	Resource model.ResourceKey
	Source   fileproc.Processor
	Dest     []*DestinationSlot

	versions    repository.VersionRepository
	staging     *staging.Manager
	stagingRoot string

	wg sync.WaitGroup
}

// New builds a Job from a resolved source processor and the destination
// slots surviving the dedup/editing check: duplicate specs are dropped
// pre-init and never reach this point as live slots.
func New(resource model.ResourceKey, source fileproc.Processor, dest []*DestinationSlot, versions repository.VersionRepository, stagingMgr *staging.Manager, stagingRoot string) *Job {
	return &Job{
		Resource:    resource,
		Source:      source,
		Dest:        dest,
		versions:    versions,
		staging:     stagingMgr,
		stagingRoot: stagingRoot,
	}
}

// Setup runs mkdir/open preparation for the source and every live
// destination concurrently, barriered by errgroup: the first failure
// cancels the group context and is returned, matching the app_sync_cnt
// barrier's "only proceed once everyone reports in, with zero errors"
// semantics.
func (j *Job) Setup(ctx context.Context, data *fileproc.Data) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := j.Source.Init(gctx, data); err != nil {
			return fmt.Errorf("orchestrator: source init: %w", err)
		}
		return nil
	})

	for _, slot := range j.Dest {
		slot := slot
		if slot.Dropped {
			continue
		}
		// Each destination resolves its own OutputTarget out of the
		// shared Outputs map by Version, so every slot gets its own
		// shallow copy of data with Version pinned to its label.
		slotData := *data
		slotData.Version = slot.Label
		g.Go(func() error {
			if err := slot.Processor.Init(gctx, &slotData); err != nil {
				return fmt.Errorf("orchestrator: destination %s init: %w", slot.Label, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// Run drives the cooperative processing loop to completion: the source
// processes until done, then every live destination processes until
// each reports done, repeating until the source and all destinations
// have finished or one reports an error.
func (j *Job) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !j.Source.HasDoneProcessing() {
			if err := j.Source.Processing(ctx); err != nil {
				return fmt.Errorf("orchestrator: source processing: %w", err)
			}
			continue
		}

		if j.allDestinationsDone() {
			return nil
		}

		if err := j.stepDestinations(ctx); err != nil {
			return err
		}
	}
}

func (j *Job) allDestinationsDone() bool {
	for _, slot := range j.Dest {
		if slot.Dropped {
			continue
		}
		if !slot.Processor.HasDoneProcessing() {
			return false
		}
	}
	return true
}

// stepDestinations marks every not-yet-done destination working, runs
// one Processing unit on each concurrently, and waits for all to return
// before the next loop iteration re-evaluates allDestinationsDone. This
// collapses a working-flag cursor plus an all-destinations-stopped
// re-entry point into a single WaitGroup barrier per cycle.
func (j *Job) stepDestinations(ctx context.Context) error {
	var (
		mu      sync.Mutex
		firstErr error
	)
	for _, slot := range j.Dest {
		if slot.Dropped || slot.Processor.HasDoneProcessing() {
			continue
		}
		slot := slot
		slot.working = true
		j.wg.Add(1)
		go func() {
			defer j.wg.Done()
			defer func() { slot.working = false }()
			if err := slot.Processor.Processing(ctx); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("orchestrator: destination %s processing: %w", slot.Label, err)
				}
				mu.Unlock()
			}
		}()
	}
	j.wg.Wait()
	return firstErr
}

// Commit publishes every live, successfully processed destination's
// staged version directory via the Staged Commit Manager, then commits
// the resource-level HLS master playlist if this job produced one: it
// lives as a sibling of the per-version directories under transcoding/,
// so the per-version renames above never carry it into committed/ on
// their own.
func (j *Job) Commit(ctx context.Context) error {
	for _, slot := range j.Dest {
		if slot.Dropped {
			continue
		}
		dir := model.StagedVersionDir{Root: j.stagingRoot, Resource: j.Resource, Label: slot.Label}
		_, err := j.versions.Get(ctx, j.Resource, slot.Label)
		if err == nil {
			if err := j.staging.CommitUpdate(ctx, dir); err != nil {
				return fmt.Errorf("orchestrator: commit update for %s: %w", slot.Label, err)
			}
		} else {
			if err := j.staging.CommitNew(ctx, dir); err != nil {
				return fmt.Errorf("orchestrator: commit new for %s: %w", slot.Label, err)
			}
		}
	}
	if err := j.staging.CommitSharedArtifact(ctx, j.stagingRoot, j.Resource, hls.MasterPlaylist); err != nil {
		return fmt.Errorf("orchestrator: commit master playlist: %w", err)
	}
	return nil
}

// Teardown deinitializes the source and every destination, repeating
// Deinit while it reports more cycles are required.
func (j *Job) Teardown(ctx context.Context) error {
	if err := deinitUntilDone(ctx, j.Source); err != nil {
		return fmt.Errorf("orchestrator: source deinit: %w", err)
	}
	for _, slot := range j.Dest {
		if slot.Dropped {
			continue
		}
		if err := deinitUntilDone(ctx, slot.Processor); err != nil {
			return fmt.Errorf("orchestrator: destination %s deinit: %w", slot.Label, err)
		}
	}
	return nil
}

func deinitUntilDone(ctx context.Context, p fileproc.Processor) error {
	for {
		more, err := p.Deinit(ctx)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

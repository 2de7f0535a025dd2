// driver.go - sequence a whole chain of replay jobs against one target
//
// (c) 2024- Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package replay

import (
	"context"
	"sort"
)

// RunChain replays jobs, in SortKey order, onto their shared target
// dataset. All jobs in a chain must share one Volname - mixing targets
// within a single chain would make the single up-front rollback
// meaningless.
//
// The target is rolled back once, to its most recent existing
// snapshot, before the first not-yet-done job runs; this establishes
// apply.Apply's precondition that T starts byte-equivalent to the
// job's A side. Each job whose Snapname already exists as a snapshot
// is skipped - a chain can always be safely re-run from the beginning,
// picking up wherever it left off. On any failure, the chain stops
// immediately: the caller is expected to re-roll back to the last
// successful snapshot and retry.
func RunChain(ctx context.Context, jobs []*SyncJob, r *Runner) error {
	if len(jobs) == 0 {
		return nil
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].SortKey < jobs[j].SortKey })

	volname := jobs[0].Volname
	existing, err := GetSnapshots(volname)
	if err != nil {
		return err
	}

	if len(existing) > 0 {
		if err := Rollback(volname, existing[len(existing)-1].Name); err != nil {
			return err
		}
	}

	done := make(map[string]bool, len(existing))
	for _, s := range existing {
		done[s.Name] = true
	}

	for _, j := range jobs {
		if done[j.Snapname] {
			continue
		}

		if err := r.Run(ctx, j); err != nil {
			return err
		}
		if err := Snapshot(j.Volname, j.Snapname); err != nil {
			return err
		}
	}
	return nil
}

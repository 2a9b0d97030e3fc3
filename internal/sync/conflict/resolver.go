// Package conflict merges local and remote views of the board using last-writer-wins.
// Nothing in this package performs I/O.
package conflict

import (
	"time"

	"github.com/kimhsiao/slotboard/internal/logging"
	"github.com/kimhsiao/slotboard/internal/models"
)

// Conflict is a record present on both sides with different visible content.
type Conflict struct {
	ID     string
	Local  models.ScheduleRecord
	Remote models.ScheduleRecord
}

// ResolveResult is the outcome of resolving one Conflict.
type ResolveResult struct {
	Winner models.ScheduleRecord
	Log    models.ConflictLog
}

// MergeResult is the merged record set plus a log entry per resolved conflict.
type MergeResult struct {
	Records   []models.ScheduleRecord
	Conflicts []models.ConflictLog
}

// ConflictIDs returns the ids of the resolved conflicts.
func (m MergeResult) ConflictIDs() []string {
	ids := make([]string, 0, len(m.Conflicts))
	for _, c := range m.Conflicts {
		ids = append(ids, c.RecordID)
	}
	return ids
}

// Resolver applies last-writer-wins. The zero value is not usable; use NewResolver.
type Resolver struct {
	now func() time.Time
}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{now: time.Now}
}

// RemoteWins reports whether remote strictly beats local. Equal timestamps keep local.
func RemoteWins(local, remote *models.ScheduleRecord) bool {
	return remote.EffectiveTime().After(local.EffectiveTime())
}

func pick(local, remote models.ScheduleRecord) (models.ScheduleRecord, string) {
	if RemoteWins(&local, &remote) {
		return remote, models.ResolutionRemoteWins
	}
	return local, models.ResolutionLocalWins
}

// dedupe collapses repeated ids within one side, keeping the newest copy at the
// position of the first occurrence.
func dedupe(records []models.ScheduleRecord) ([]models.ScheduleRecord, map[string]int) {
	out := make([]models.ScheduleRecord, 0, len(records))
	index := make(map[string]int, len(records))
	for _, r := range records {
		if i, ok := index[r.ID]; ok {
			if r.EffectiveTime().After(out[i].EffectiveTime()) {
				out[i] = r
			}
			continue
		}
		index[r.ID] = len(out)
		out = append(out, r)
	}
	return out, index
}

// DetectConflicts lists ids present on both sides whose date, times, status or owner
// name differ. Order follows the remote side.
func DetectConflicts(local, remote []models.ScheduleRecord) []Conflict {
	localSet, localIndex := dedupe(local)
	remoteSet, _ := dedupe(remote)

	var conflicts []Conflict
	for _, r := range remoteSet {
		i, ok := localIndex[r.ID]
		if !ok {
			continue
		}
		l := localSet[i]
		if !l.SameContent(&r) {
			conflicts = append(conflicts, Conflict{ID: r.ID, Local: l, Remote: r})
		}
	}
	return conflicts
}

// Resolve picks the winner of one conflict and records it.
func (r *Resolver) Resolve(c Conflict) ResolveResult {
	winner, resolution := pick(c.Local, c.Remote)

	log := models.ConflictLog{
		RecordID:        c.ID,
		LocalTimestamp:  c.Local.EffectiveTime(),
		RemoteTimestamp: c.Remote.EffectiveTime(),
		Resolution:      resolution,
		DetectedAt:      r.now(),
	}

	logging.Info("Conflict resolved using last-write-wins", map[string]interface{}{
		"record_id":        c.ID,
		"local_timestamp":  log.LocalTimestamp,
		"remote_timestamp": log.RemoteTimestamp,
		"resolution":       resolution,
	})

	return ResolveResult{Winner: winner, Log: log}
}

// Merge unions local and remote by id. Shared ids keep the last writer. The result
// lists remote records in remote order followed by local-only records in local order.
func (r *Resolver) Merge(local, remote []models.ScheduleRecord) MergeResult {
	localSet, localIndex := dedupe(local)
	remoteSet, remoteIndex := dedupe(remote)

	result := MergeResult{Records: make([]models.ScheduleRecord, 0, len(localSet)+len(remoteSet))}

	for _, rem := range remoteSet {
		i, ok := localIndex[rem.ID]
		if !ok {
			result.Records = append(result.Records, rem)
			continue
		}
		loc := localSet[i]
		if loc.SameContent(&rem) {
			winner, _ := pick(loc, rem)
			result.Records = append(result.Records, winner)
			continue
		}
		res := r.Resolve(Conflict{ID: rem.ID, Local: loc, Remote: rem})
		result.Records = append(result.Records, res.Winner)
		result.Conflicts = append(result.Conflicts, res.Log)
	}

	for _, loc := range localSet {
		if _, ok := remoteIndex[loc.ID]; !ok {
			result.Records = append(result.Records, loc)
		}
	}

	if len(result.Conflicts) > 0 {
		logging.Warn("Merged with conflicts", map[string]interface{}{
			"records":   len(result.Records),
			"conflicts": len(result.Conflicts),
		})
	}
	return result
}

// Merge is Resolver.Merge without the conflict log.
func Merge(local, remote []models.ScheduleRecord) []models.ScheduleRecord {
	return NewResolver().Merge(local, remote).Records
}

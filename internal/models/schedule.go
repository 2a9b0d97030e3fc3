// Package models provides data model definitions for the slotboard sync engine.
package models

import (
	"fmt"
	"time"
)

// SlotStatus is the booking state of a schedule record.
type SlotStatus string

const (
	SlotFree SlotStatus = "free"
	SlotBusy SlotStatus = "busy"
)

// Valid reports whether s is a known status.
func (s SlotStatus) Valid() bool {
	return s == SlotFree || s == SlotBusy
}

// Layouts for the calendar fields of a ScheduleRecord.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Bounds for record dates accepted at creation.
var (
	MinDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	MaxDate = time.Date(2035, 12, 31, 0, 0, 0, 0, time.UTC)
)

// ScheduleRecord is a booked time interval. ID is the merge key and never changes.
type ScheduleRecord struct {
	ID        string     `json:"id"`
	Date      string     `json:"date"`
	StartTime string     `json:"startTime"`
	EndTime   string     `json:"endTime"`
	Status    SlotStatus `json:"status"`
	OwnerName string     `json:"ownerName"`
	OwnerID   string     `json:"ownerId"`
	CreatedAt time.Time  `json:"createdAt,omitzero"`
	UpdatedAt time.Time  `json:"updatedAt,omitzero"`
}

// Validate checks the creation-time invariants of a record.
// Merge never calls it: remote records are accepted as they are.
func (r *ScheduleRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record id is required")
	}

	day, err := time.Parse(DateLayout, r.Date)
	if err != nil {
		return fmt.Errorf("record %s: invalid date %q", r.ID, r.Date)
	}
	if day.Before(MinDate) || day.After(MaxDate) {
		return fmt.Errorf("record %s: date %s outside %s..%s", r.ID, r.Date,
			MinDate.Format(DateLayout), MaxDate.Format(DateLayout))
	}

	start, err := time.Parse(TimeLayout, r.StartTime)
	if err != nil {
		return fmt.Errorf("record %s: invalid start time %q", r.ID, r.StartTime)
	}
	end, err := time.Parse(TimeLayout, r.EndTime)
	if err != nil {
		return fmt.Errorf("record %s: invalid end time %q", r.ID, r.EndTime)
	}
	if !start.Before(end) {
		return fmt.Errorf("record %s: start time %s must be before end time %s", r.ID, r.StartTime, r.EndTime)
	}

	if !r.Status.Valid() {
		return fmt.Errorf("record %s: invalid status %q", r.ID, r.Status)
	}
	if r.OwnerID == "" {
		return fmt.Errorf("record %s: owner id is required", r.ID)
	}
	if !r.CreatedAt.IsZero() && !r.UpdatedAt.IsZero() && r.UpdatedAt.Before(r.CreatedAt) {
		return fmt.Errorf("record %s: updatedAt is older than createdAt", r.ID)
	}
	return nil
}

// EffectiveTime is the timestamp used for last-writer-wins comparison:
// UpdatedAt, else CreatedAt, else the Unix epoch.
func (r *ScheduleRecord) EffectiveTime() time.Time {
	if !r.UpdatedAt.IsZero() {
		return r.UpdatedAt
	}
	if !r.CreatedAt.IsZero() {
		return r.CreatedAt
	}
	return time.Unix(0, 0).UTC()
}

// Touch stamps UpdatedAt, keeping it no older than CreatedAt.
func (r *ScheduleRecord) Touch(now time.Time) {
	if now.Before(r.CreatedAt) {
		now = r.CreatedAt
	}
	r.UpdatedAt = now
}

// SameContent reports whether the user-visible fields of two records are equal.
func (r *ScheduleRecord) SameContent(o *ScheduleRecord) bool {
	return r.Date == o.Date &&
		r.StartTime == o.StartTime &&
		r.EndTime == o.EndTime &&
		r.Status == o.Status &&
		r.OwnerName == o.OwnerName
}

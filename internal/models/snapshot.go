package models

import "time"

// RemoteSnapshot is the whole shared dataset as of one remote version.
// VersionToken is never serialized into the document; backends carry it out of band.
type RemoteSnapshot struct {
	Schedules    []ScheduleRecord `json:"schedules"`
	Admins       []AdminProfile   `json:"adminUsers"`
	LastSync     time.Time        `json:"lastSync,omitzero"`
	Version      string           `json:"version,omitempty"`
	UpdatedBy    string           `json:"updatedBy,omitempty"`
	UpdatedAt    time.Time        `json:"updatedAt,omitzero"`
	VersionToken string           `json:"-"`
}

// ForUpload returns a copy suitable for publishing: admin secrets are stripped and nil
// slices become empty so the document always carries both arrays.
func (s *RemoteSnapshot) ForUpload() *RemoteSnapshot {
	out := *s
	out.Schedules = make([]ScheduleRecord, len(s.Schedules))
	copy(out.Schedules, s.Schedules)
	out.Admins = make([]AdminProfile, 0, len(s.Admins))
	for _, a := range s.Admins {
		out.Admins = append(out.Admins, a.RemoteView())
	}
	return &out
}

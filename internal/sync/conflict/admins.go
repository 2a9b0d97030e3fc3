package conflict

import "github.com/kimhsiao/slotboard/internal/models"

// MergeAdmins unions admin profiles by username. The remote side supplies identity and
// display name, the local side supplies the secret. Admins only known remotely get the
// placeholder secret and must reset it. Nothing is ever removed.
func MergeAdmins(local, remote []models.AdminProfile) []models.AdminProfile {
	localIndex := make(map[string]int, len(local))
	for i, a := range local {
		if _, ok := localIndex[a.Username]; !ok {
			localIndex[a.Username] = i
		}
	}

	seen := make(map[string]bool, len(local)+len(remote))
	out := make([]models.AdminProfile, 0, len(local)+len(remote))

	for _, rem := range remote {
		if rem.Username == "" || seen[rem.Username] {
			continue
		}
		seen[rem.Username] = true

		i, ok := localIndex[rem.Username]
		if !ok {
			out = append(out, models.AdminProfile{
				Username:         rem.Username,
				DisplayName:      rem.DisplayName,
				CredentialSecret: models.PlaceholderSecret,
				NeedsSecretReset: true,
				CreatedAt:        rem.CreatedAt,
			})
			continue
		}

		merged := local[i]
		if rem.DisplayName != "" {
			merged.DisplayName = rem.DisplayName
		}
		if merged.CreatedAt.IsZero() {
			merged.CreatedAt = rem.CreatedAt
		}
		out = append(out, merged)
	}

	for _, loc := range local {
		if seen[loc.Username] {
			continue
		}
		seen[loc.Username] = true
		out = append(out, loc)
	}
	return out
}

package availability

import (
	"fmt"
	"strings"

	"github.com/shopcal/shopcal/services/booking-service/internal/model"
)

// StaffPolicy decides how bookings without a staff member ("any available")
// interact with bookings for a specific staff member.
type StaffPolicy string

const (
	// StaffPolicyShared: an unassigned booking takes capacity from every staff
	// member, and an unassigned query sees the whole shop.
	StaffPolicyShared StaffPolicy = "shared"
	// StaffPolicyIsolated: unassigned bookings only collide with each other.
	StaffPolicyIsolated StaffPolicy = "isolated"
)

func ParseStaffPolicy(raw string) (StaffPolicy, error) {
	switch p := StaffPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return StaffPolicyShared, nil
	case StaffPolicyShared, StaffPolicyIsolated:
		return p, nil
	default:
		return "", fmt.Errorf("unknown staff policy %q", raw)
	}
}

// visible reports whether an appointment assigned to apptStaff counts
// against a query for queryStaff. Two different specific staff members never
// see each other.
func (p StaffPolicy) visible(queryStaff, apptStaff string) bool {
	switch {
	case queryStaff != "" && apptStaff != "":
		return queryStaff == apptStaff
	case queryStaff == "" && apptStaff == "":
		return true
	default:
		return p != StaffPolicyIsolated
	}
}

// FindConflicts returns the blocking appointments that overlap iv for the
// given staff scope, skipping excludeID.
func FindConflicts(appts []model.Appointment, iv Interval, staffID, excludeID string, policy StaffPolicy) []model.Appointment {
	var out []model.Appointment
	for _, a := range appts {
		if !a.Blocking() || a.ID == excludeID || !policy.visible(staffID, a.StaffID) {
			continue
		}
		if Overlaps(iv.Start, iv.End, a.StartTime, a.EndTime) {
			out = append(out, a)
		}
	}
	return out
}

package authz

import "strings"

// DefaultSessionTimeout is granted when a credential has no Session-Timeout reply entry.
const DefaultSessionTimeout = 3600

// DefaultPlanTimeout applies to plan names that match no known duration.
const DefaultPlanTimeout = 86400

// planTimeouts is checked in order; the longer names come first so that
// "12 Hour" is not read as "1 Hour"-something.
var planTimeouts = []struct {
	markers []string
	seconds int
}{
	{[]string{"24 Hour", "24h"}, 86400},
	{[]string{"12 Hour", "12h"}, 43200},
	{[]string{"1 Hour", "1h"}, 3600},
}

// VoucherTimeout is the voucher path policy: the voucher's minutes, in seconds.
func VoucherTimeout(durationMinutes int) int {
	return durationMinutes * 60
}

// PlanTimeout is the payment path policy: the plan name decides the timeout,
// not the amount paid or any stored duration.
func PlanTimeout(planName string) int {
	for _, p := range planTimeouts {
		for _, m := range p.markers {
			if strings.Contains(planName, m) {
				return p.seconds
			}
		}
	}
	return DefaultPlanTimeout
}

package registry

import (
	"github.com/nicholaskb/semant/pkg/errors"
)

// Policy names a selection strategy for Select.
type Policy string

const (
	// PolicyRoundRobin rotates through capability candidates in id order.
	PolicyRoundRobin Policy = "round_robin"

	// PolicyLeastRecentlyUsed picks the candidate idle for the longest.
	PolicyLeastRecentlyUsed Policy = "least_recently_used"
)

// ParsePolicy maps a config string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyRoundRobin, PolicyLeastRecentlyUsed:
		return Policy(s), nil
	case "":
		return PolicyRoundRobin, nil
	default:
		return "", errors.New(errors.CodeValidation, "unknown selection policy", nil).
			WithContext("policy", s)
	}
}

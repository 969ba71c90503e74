package enums

import "strings"

type OwnershipStatus string

const (
	OwnershipStatusOwned  OwnershipStatus = "owned"
	OwnershipStatusWanted OwnershipStatus = "wanted"
)

func ParseOwnershipStatus(raw string) (OwnershipStatus, bool) {
	switch OwnershipStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case OwnershipStatusOwned:
		return OwnershipStatusOwned, true
	case OwnershipStatusWanted:
		return OwnershipStatusWanted, true
	default:
		return "", false
	}
}

//go:build race

package auth

// race builds hash at the floor cost, the detector slows bcrypt enough to trip test timeouts
func passwordHashCost() int {
	return MinPasswordCost
}

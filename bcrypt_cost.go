//go:build !race

package auth

// passwordHashCost is the cost used when Config leaves it unset
func passwordHashCost() int {
	return 12
}

//go:build race

package auth

import "golang.org/x/crypto/bcrypt"

func passwordHashCost() int {
	// race builds run several times slower
	return bcrypt.DefaultCost
}

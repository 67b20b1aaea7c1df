package utils

import (
	"github.com/sethvargo/go-password/password"
)

// GenerateAuthSecret returns a random secret suitable for signing session
// tokens. Generated once on first boot and persisted to the settings file.
func GenerateAuthSecret() (string, error) {
	return password.Generate(48, 12, 0, false, true)
}

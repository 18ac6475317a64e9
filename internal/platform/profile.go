// Package platform describes the runtime the monitor runs on: whether it is a
// restrictive-mobile environment, and how to hold a screen-retention lock.
package platform

import (
	"os"
	"runtime"
	"strings"
)

// Profile is derived once at startup and never changes afterwards.
type Profile struct {
	Restrictive bool
}

// Standard is the profile for environments without background limits.
var Standard = Profile{}

// Restrictive is the profile for aggressive background-execution limits.
var Restrictive = Profile{Restrictive: true}

// String returns "restrictive" or "standard".
func (p Profile) String() string {
	if p.Restrictive {
		return "restrictive"
	}
	return "standard"
}

// Environment is the slice of process state inspected by Detect.
type Environment struct {
	GOOS   string
	Getenv func(string) string
}

// CurrentEnvironment inspects the running process.
func CurrentEnvironment() Environment {
	return Environment{GOOS: runtime.GOOS, Getenv: os.Getenv}
}

// Detect resolves the configured mode (auto, restrictive, standard).
func Detect(mode string, env Environment) Profile {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "restrictive":
		return Restrictive
	case "standard":
		return Standard
	}

	switch env.GOOS {
	case "ios", "android":
		return Restrictive
	}
	if env.Getenv != nil && env.Getenv("TERMUX_VERSION") != "" {
		return Restrictive
	}
	return Standard
}

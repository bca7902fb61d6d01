package util

import (
	"fmt"
	"math/rand"
)

// GenerateRequestID produces a short human-scannable id for log correlation.
func GenerateRequestID() string {
	actions := []string{
		"rising", "turning", "ebbing", "flooding", "cresting",
		"surging", "drifting", "breaking", "rolling", "settling",
	}
	tides := []string{
		"spring", "neap", "slack", "flood", "ebb",
		"high", "low", "rip", "king", "perigean",
	}

	tide := tides[rand.Intn(len(tides))]
	action := actions[rand.Intn(len(actions))]
	suffix := fmt.Sprintf("%04x", rand.Intn(65536))

	return fmt.Sprintf("%s_%s_%s", tide, action, suffix)
}

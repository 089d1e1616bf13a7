package executor

import (
	"time"

	"github.com/goombaio/namegenerator"
)

// generateHostname produces a friendly default UTS hostname for a guest
// that doesn't need one to be meaningful — spec.md's Settings defines no
// hostname surface, so there is nothing for a caller to override here.
// Grounded on options/options.go (teacher): same generator, seeded the
// same way, used only as a fallback rather than a configurable default.
func generateHostname() string {
	generator := namegenerator.NewNameGenerator(time.Now().UTC().UnixNano())
	return generator.Generate()
}

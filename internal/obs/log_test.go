package obs

import "testing"

func TestComponentLogger(t *testing.T) {
	log := Component("test")
	// Must not panic and must carry a usable level.
	log.Debug().Msg("noop")
}

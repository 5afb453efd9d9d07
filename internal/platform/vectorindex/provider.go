package vectorindex

import (
	"os"
	"strings"

	"github.com/nebulus/gantry/internal/platform/logger"
)

// New selects a Store implementation from the environment. A configured
// QDRANT_URL gets the Qdrant store; anything else falls back to the
// in-process store.
func New(log *logger.Logger) (Store, error) {
	if strings.TrimSpace(os.Getenv("QDRANT_URL")) != "" {
		return NewQdrant(log)
	}
	log.Warn("QDRANT_URL not set; using in-process vector index")
	return NewMemory(), nil
}

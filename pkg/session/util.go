package session

import (
	"log"
	"os"
)

// debugLog logs debug messages only if DOODLE_DEBUG is set
func debugLog(format string, args ...interface{}) {
	if os.Getenv("DOODLE_DEBUG") != "" {
		log.Printf(format, args...)
	}
}

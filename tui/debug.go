package tui

import (
	"fmt"
	"os"
	"sync"
)

// Set TUI_DEBUG=1 to trace front-end messages on stderr.
var (
	debugEnabled     bool
	debugEnabledOnce sync.Once
)

// IsDebugEnabled returns true if TUI_DEBUG environment variable is set.
func IsDebugEnabled() bool {
	debugEnabledOnce.Do(func() {
		debugEnabled = os.Getenv("TUI_DEBUG") == "1"
	})
	return debugEnabled
}

func debugLog(format string, args ...interface{}) {
	if IsDebugEnabled() {
		fmt.Fprintf(os.Stderr, "[TUI DEBUG] "+format+"\n", args...)
	}
}

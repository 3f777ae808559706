// Package diagnostics optionally exposes this process to the gops CLI,
// the same way musclefs and muscle do (cmd/musclefs/musclefs.go,
// cmd/muscle/muscle.go), so an operator running a long build with a large
// SourceTree or WritableTree resident in memory can attach and inspect
// goroutines, memory stats and the stack without restarting the process.
package diagnostics

import (
	"github.com/google/gops/agent"
	log "github.com/sirupsen/logrus"
)

// Enable starts the gops agent. Failure to start (most commonly, the
// gops unix socket directory is unwritable, or another instance already
// bound it) is logged and otherwise ignored — diagnostics are a
// convenience, never a precondition for this package's trees to work.
func Enable() {
	if err := agent.Listen(agent.Options{}); err != nil {
		log.WithError(err).Warn("could not start gops diagnostics agent")
	}
}

package mmdb

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

// log is the package default logger, used by components that are not yet
// threaded through from an *Env (constants, codec helpers). Per-Env code
// should prefer env.log, set from Options.Logger or this default.
var log logr.Logger = stdr.New(nil).WithName("mmdb")

// defaultLogger returns opts.Logger if the caller supplied one, otherwise a
// stdr-backed logr.Logger named "mmdb".
func defaultLogger(l *logr.Logger) logr.Logger {
	if l != nil {
		return *l
	}
	return stdr.New(nil).WithName("mmdb")
}

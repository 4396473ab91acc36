package mdoc

import (
	"fmt"
	"runtime/debug"

	"github.com/op/go-logging"
)

// recoverToLog runs f and logs (rather than crashes the process on) any
// panic. The transport's long-lived goroutines — the scan, the idle-timeout
// monitors, the L2CAP accept wait, and the facade's background central
// Start — are wrapped in this; the short CancelConnection goroutine in
// CentralClient.Terminate is not.
func recoverToLog(f func(), log *logging.Logger) {
	defer func() {
		if x := recover(); x != nil {
			if log != nil {
				log.Error(fmt.Sprintf("run time panic: %v", x))
				log.Error(string(debug.Stack()))
			}
		}
	}()
	f()
}

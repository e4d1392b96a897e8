package util

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// PanicHandler recovers panics on the live path and logs them with their
// stack and session fields.
type PanicHandler struct {
	logger *logrus.Logger
}

// NewPanicHandler creates a new panic handler
func NewPanicHandler(logger *logrus.Logger) *PanicHandler {
	return &PanicHandler{
		logger: logger,
	}
}

// Recover recovers from panics and logs them. It must be deferred directly.
func (ph *PanicHandler) Recover(component string, fields logrus.Fields) {
	if r := recover(); r != nil {
		ph.report(component, fields, r)
	}
}

// RecoverWithCallback recovers from panics and then runs callback with the
// panic value. It must be deferred directly.
func (ph *PanicHandler) RecoverWithCallback(component string, fields logrus.Fields, callback func(interface{})) {
	if r := recover(); r != nil {
		ph.report(component, fields, r)

		if callback != nil {
			func() {
				defer func() {
					if cbPanic := recover(); cbPanic != nil {
						ph.logger.WithFields(logrus.Fields{
							"component":      component,
							"callback_panic": cbPanic,
						}).Error("Panic in panic recovery callback")
					}
				}()
				callback(r)
			}()
		}
	}
}

// SafeGo starts a goroutine with panic recovery
func (ph *PanicHandler) SafeGo(component string, fields logrus.Fields, fn func()) {
	go func() {
		defer ph.Recover(component, fields)
		fn()
	}()
}

func (ph *PanicHandler) report(component string, fields logrus.Fields, r interface{}) {
	stack := debug.Stack()

	// skip report, the Recover wrapper and runtime.gopanic
	pc, file, line, ok := runtime.Caller(3)
	var caller string
	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fmt.Sprintf("%s:%d %s", file, line, fn.Name())
		} else {
			caller = fmt.Sprintf("%s:%d", file, line)
		}
	}

	entry := ph.logger.WithFields(logrus.Fields{
		"component":   component,
		"panic_value": r,
		"caller":      caller,
		"stack_trace": string(stack),
	})
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error("Panic recovered")
}

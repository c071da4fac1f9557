// Package reporting forwards best-effort failures (hook errors, failed queue
// flushes) to Rollbar. Without a token it only logs.
package reporting

import (
	"log"
	"sync/atomic"

	"github.com/rollbar/rollbar-go"
)

var enabled atomic.Bool

// Init configures the Rollbar client. An empty token leaves reporting disabled.
func Init(token, environment, codeVersion string) {
	if token == "" {
		rollbar.SetEnabled(false)
		enabled.Store(false)
		return
	}
	rollbar.SetToken(token)
	rollbar.SetEnvironment(environment)
	rollbar.SetCodeVersion(codeVersion)
	rollbar.SetEnabled(true)
	enabled.Store(true)
}

// Error logs err under the component tag and reports it when enabled.
func Error(component string, err error, extras map[string]interface{}) {
	if err == nil {
		return
	}
	log.Printf("[%s] %v %v", component, err, extras)
	if !enabled.Load() {
		return
	}
	fields := make(map[string]interface{}, len(extras)+1)
	for k, v := range extras {
		fields[k] = v
	}
	fields["component"] = component
	rollbar.Error(err, fields)
}

// Close flushes pending reports.
func Close() {
	if enabled.Load() {
		rollbar.Wait()
	}
}

// Package upstream tracks the state of the proxy target: its address, the
// health reported by the periodic probe, how many relay sessions are open to
// it, and a moving average of session duration.
package upstream

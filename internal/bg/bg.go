// Package bg decides how the server runs per-connection work: on a new
// goroutine, or inline on the accept loop when debugging.
package bg

// Runner executes a function, either synchronously or asynchronously.
type Runner interface {
	Do(fn func())
}

package bg

// Sync runs each function on the calling goroutine. A server using Sync
// serves one connection at a time in accept order.
type Sync struct{}

// Do runs fn and returns when it has finished.
func (Sync) Do(fn func()) {
	fn()
}

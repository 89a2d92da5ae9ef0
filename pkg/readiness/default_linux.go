//go:build linux

package readiness

// NewDefault returns the best Selector for the current platform: epoll on
// Linux.
func NewDefault() (Selector, error) {
	return NewEpoll()
}

package assert

import "fmt"

// Assert panics with the formatted message when condition is false.
func Assert(condition bool, format string, args ...any) {
	if condition {
		return
	}
	panic("assertion failed: " + fmt.Sprintf(format, args...))
}

package ocean

import "runtime/debug"

func getPanicStack() string {
	return string(debug.Stack())
}

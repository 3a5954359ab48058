package discrete

import (
	"time"
	"unsafe"

	"github.com/clearpath-media/mxl/internal/waitword"
)

func unsafeBase(buf []byte) unsafe.Pointer {
	if len(buf) == 0 {
		return nil
	}
	return unsafe.Pointer(&buf[0])
}

// waitFn is a package-level indirection over waitword.Wait so tests can
// stub it if ever needed; production code always uses the real futex wait.
var waitFn = waitword.Wait

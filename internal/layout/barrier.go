//go:build linux && cgo

package layout

/*
#include <stdint.h>

static inline void sfence_impl(void) {
    __asm__ __volatile__("sfence" ::: "memory");
}

static inline void mfence_impl(void) {
    __asm__ __volatile__("mfence" ::: "memory");
}
*/
import "C"

// StoreFence issues an x86 SFENCE, ensuring all prior stores (the payload
// copy into a cell) are globally visible before the cell metadata's
// release-store that follows it.
func StoreFence() {
	C.sfence_impl()
}

// FullFence issues an x86 MFENCE, used around the head_index/wait_word
// publish sequence where both loads and stores must be ordered.
func FullFence() {
	C.mfence_impl()
}

//go:build !(linux && cgo)

package layout

// StoreFence is a no-op on platforms without the cgo-backed x86 fence.
// Correctness still holds: every header field is accessed exclusively
// through sync/atomic, which the Go memory model already orders as
// acquire/release on amd64 and arm64.
func StoreFence() {}

// FullFence is a no-op for the same reason, see StoreFence.
func FullFence() {}

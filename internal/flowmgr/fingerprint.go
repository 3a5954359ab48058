package flowmgr

import "github.com/dchest/siphash"

// fingerprintKey0/1 are fixed keys: the fingerprint only needs to detect
// accidental descriptor drift between processes sharing a domain, not
// resist a deliberate adversary, so a per-deployment secret key is
// unnecessary.
const (
	fingerprintKey0 = 0x6d786c5f666c6f77
	fingerprintKey1 = 0x6465736372697074
)

// fingerprint hashes a descriptor's normalized fields into a 128-bit value
// stored in the flow header's reserved region, so a later CreateFlowWriter
// against an existing flow directory can detect a mismatch without
// re-parsing and deep-comparing JSON.
func fingerprint(d Descriptor) (lo, hi uint64) {
	return siphash.Hash128(fingerprintKey0, fingerprintKey1, d.fingerprintFields())
}

// Package canonical produces canonical JSON and domain-separated hashes.
//
// Canonical JSON follows RFC 8785 for the value types the escrow host signs
// and journals:
//   - Object keys sorted by UTF-16 code units
//   - No insignificant whitespace, no HTML escaping
//   - Strings NFC normalized
//   - Integers only; floats and null are rejected
//
// Signing messages and content hashes are always built from canonical bytes,
// never from encoding/json output, so two hosts agree on them byte for byte.
package canonical

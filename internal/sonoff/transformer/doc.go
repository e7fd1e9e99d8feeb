// Package transformer converts data between the eWeLink wire format and
// the platform model.
//
// It covers three concerns:
//   - AES-128-CBC encryption of LAN payloads (key = MD5 of the device key)
//   - mapping of well-known wire parameter names to property identifiers
//   - normalisation of values according to a property's data type and format
//
// Decryption failures are reported with ErrDecrypt; callers drop the
// payload and continue.
package transformer

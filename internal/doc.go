// Package internal contains helper utilities that are intentionally private
// to tfa, currently secure trust-token generation.
//
// # What this package must NOT do
//
//   - Export types that appear in the public tfa API.
//   - Be imported by any package outside the tfa module.
package internal

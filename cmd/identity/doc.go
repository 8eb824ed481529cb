// Package identity implements addressing for the archive service: JIDs
// (user@server/resource), their canonical form, and the typed errors used when
// an address cannot be parsed.
//
// This package is intentionally dependency-light.
package identity

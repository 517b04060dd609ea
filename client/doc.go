// Package client implements the remote-call bridge: the HTTP adapter a
// non-owner process uses to perform vault operations through whichever
// process currently owns the vault host channel.
//
// The bridge mirrors the owner-side call contract — one operation name plus
// JSON arguments in, a JSON result or a typed error out — so upper layers
// never care which side of the election they landed on. When the owner
// process disappears the bridge does not fail silently: connection-level
// errors surface as an ownership-lost error, signalling the caller to re-run
// the election and possibly become the new owner.
package client

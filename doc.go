// Package vaultd coordinates many independent processes sharing one desktop
// vault host over a single persistent control channel.
//
// Only one channel to the vault host can exist at a time, but any number of
// processes may want to perform vault operations concurrently. vaultd resolves
// this with a leaderless election built on the operating system's port
// semantics: every process reads the same vault-scoped configuration file,
// probes the well-known loopback port for a healthy owner, and either relays
// through that owner or binds the port itself and becomes the owner. Binding
// is atomic, so at most one owner exists per vault at any instant, and an
// owner crash releases the port for the next caller to claim.
//
// Connect runs the election and returns a Session; Session.Do executes
// catalog operations identically in both roles and re-runs the election
// transparently when the owner disappears mid-call.
package vaultd

// Package mcp exposes the vault operation catalog as MCP tools over stdio.
//
// The facade owns no vault logic: every tool call goes through a vaultd
// Session, which decides per call whether to execute locally as the owner or
// relay through the current owner. Many MCP server processes can therefore
// run against the same vault at once, each spawned by a different client,
// without fighting over the single vault host channel.
package mcp

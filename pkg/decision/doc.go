/*
Package decision provides ports.DecisionSource implementations.

  - Static: always returns the same decision.
  - Policy: retries a bounded number of times, then skips when allowed, else pauses.
  - Prompt: asks an operator on a text terminal.
  - Mailbox: parks each failure until an external surface (HTTP, MCP) resolves it.
*/
package decision

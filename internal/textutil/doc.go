// Package textutil provides small text helpers shared by storage, the stage
// registry and the CLI: batch-name tokens, title casing of configuration
// identifiers, and a generic ternary.
package textutil

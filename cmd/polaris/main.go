// Polaris is an intelligent key router for LLM providers.
//
// It manages pools of provider API keys and routes each request to the
// best key under the active objective, providing:
//   - Key lifecycle management with encrypted material at rest
//   - Quota awareness and exhaustion prediction per key
//   - Cost estimation, budget enforcement, and reconciliation
//   - Policy-based candidate filtering and steering
//   - A routing decision audit trail with CSV/JSON export
//
// Usage:
//
//	# Start the management server with default configuration
//	polaris run
//
//	# Start with a custom configuration file
//	polaris run --config /etc/polaris/polaris.yaml
//
//	# Validate a configuration file without starting
//	polaris validate
//
//	# Inspect the key inventory
//	polaris keys list
//
//	# Export the routing decision trail
//	polaris decisions export --format csv --output decisions.csv
//
//	# Show version information
//	polaris version
package main

func main() {
	Execute()
}

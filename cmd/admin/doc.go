// Package main (cmd/admin) implements the operator client for the tenant
// splitting service.
//
// The admin client provides command-line tools for monitoring the funding
// ledger, managing the instance registry, and driving migrations on behalf of
// owners during operational work.
//
// Commands:
//
//	ledger-status       - Show the funding reserve, threshold, consumption, and alert level
//	add-reserve         - Credit the funding reserve
//	set-threshold       - Replace the minimum reserve threshold
//	registry-list       - List registry entries by owner or by lifecycle status
//	registry-get        - Show one registry entry by instance id
//	registry-remove     - Drop an abandoned registry entry
//	sweep-sessions      - Evict expired import sessions
//	migrate             - Run the caller's migration and print the result
//	migration-status    - Show the caller's migration record
//
// Admin commands send the identity from --admin in the caller header; it must
// be on the server's admin allowlist. Migration commands send the owner
// identity from --caller instead.
package main

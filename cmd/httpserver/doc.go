// Package main (cmd/httpserver) implements the tenant splitting service.
//
// The server provides HTTP endpoints for migrating single tenants off a
// shared multi-tenant instance onto personal instances: running and polling
// migrations, driving the chunked import protocol, and operating the funding
// ledger and instance registry.
//
// On startup the server loads the persisted state blob (ledger, migration
// records, registry entries, import sessions), marks migrations interrupted
// by the restart as failed so their owners can retry, and then serves the
// API. State is persisted atomically after every transition and once more on
// shutdown.
//
// Export snapshots and manifests can additionally be archived to
// content-addressed storage backends (file or S3) given via --archive-uri.
//
// Prometheus metrics are served on a separate listener (--metrics-addr), and
// the usual health endpoints (livez, readyz, drain, undrain) are mounted next
// to the API.
package main

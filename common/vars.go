// Package common holds shared service-level constants and the logger setup
// used by every binary in this repository.
package common

// PackageName is used as the metrics namespace and default service tag.
const PackageName = "tenant_split_backend"

// Version is set at build time via -ldflags.
var Version = "dev"

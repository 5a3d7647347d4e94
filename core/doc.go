// Package core contains the identity transfer domain: user records, the
// per-record migration state machine, the provider and store contracts, and
// the two phase runners that drive a migration batch. Store and provider
// adapters depend on this package; core must not depend on them.
package core

// Package core contains the identity bridge domain: directory and store
// contracts, the sync engine that reconciles a remote identity into local
// records, and the session validator that drives login and lookup. Adapters
// depend on core; core depends on no adapter.
package core

// Package discovery implements the built-in discovery protocols: PDP
// (participant discovery, SPDP) and EDP (endpoint discovery, SEDP). Both
// are ordinary StatelessWriter/StatefulWriter and StatelessReader/StatefulReader
// pairs bound to well-known entity IDs, carrying discovery-specific payloads
// instead of user data.
package discovery

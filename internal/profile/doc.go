// Package profile caches display identities for user IDs. Profiles are
// cosmetic and best-effort: a failed or slow lookup degrades to a
// placeholder built from the raw ID, never to an error in the message path.
package profile

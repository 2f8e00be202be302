// Package reconcile keeps a client's rendered message list coherent while
// sends are in flight. An optimistic send shows up immediately, the
// authoritative snapshot eventually confirms it, and the merge guarantees
// the message never renders twice and never silently disappears: a send
// either resolves into its server echo or is marked failed for the user to
// retry.
package reconcile

// Package pipeline is the per-message alert processor. It sequences policy
// loading, normalization, filtering, deduplication, pull request and story
// resolution, EPIC resolution, issue creation and best-effort notification
// for one queue message, retaining no state between messages.
package pipeline

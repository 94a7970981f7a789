// Package frontier decides what gets fetched: the listing frontier walks
// numbered pages until the end of the listing, and the detail frontier picks
// the items whose detail pages are missing or stale.
package frontier

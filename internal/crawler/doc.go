// Package crawler defines the core types, interfaces, errors and value
// normalization shared by the listing harvester: item identity, listing and
// detail records, the canonical merged record, the fetch error taxonomy and
// the retry policy used by fetchers.
package crawler

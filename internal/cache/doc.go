// Package cache holds synthesized clips for the playback window. Relevance
// is distance from the playback cursor rather than recency: clips behind the
// cursor or past the lookahead window are evicted, and results arriving for
// evicted keys are discarded.
package cache

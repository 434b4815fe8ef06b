// Package dedupe provides a TTL key set for claiming work by key.
//
// The turn coordinator claims a thread id for the length of a turn so that a
// second turn, or a chart backfill, on the same thread is refused instead of
// racing the first one's save. Claims lapse after the ttl if never released.
package dedupe

// Package paths computes the on-disk layout for every artifact the pipeline
// produces.
//
// Two roots are distinguished: the bulk root holds large temporary videos,
// while the work root holds everything else (audio intermediates, permanent
// transcripts, the queue database, metadata caches, logs). Per-episode files
// are addressed deterministically by (MAL id, episode number) so concurrent
// workers never collide on a path and retried stages overwrite their own
// partial output.
package paths

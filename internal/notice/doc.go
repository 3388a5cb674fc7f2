// Package notice aggregates per-conversation notice counts into one
// notification decision per debounce cycle.
//
// Triggers carry partial conversation updates. Updates arriving inside one
// window are shallow-merged per conversation, applied to the conversation
// source, and followed by a single scan that produces a Snapshot. Sound and
// popup alerts arm only when both the total and the unmuted count grew since
// the previous cycle.
package notice

// Package cache provides the unit store: a persistent, content-addressed
// mapping from cache keys to synthesized audio.
//
// Artifacts are written once and never evicted from disk. A bounded
// in-memory LRU layer keeps recently served artifacts decoded so repeated
// words within a session do not touch the filesystem.
package cache

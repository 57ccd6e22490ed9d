// Package conversation tracks agent exchanges that expect a reply.
//
// Every record starts in thinking and reaches exactly one terminal status:
// completed, timeout or error. Each record carries its own single-shot
// deadline timer; the timer never mutates a record that already ended, so
// a completion arriving just before the deadline always wins. Terminal
// records are swept once they are older than the retention window.
//
// The tracker can be snapshotted and restored across a process restart;
// restored records past the retention window are discarded.
package conversation

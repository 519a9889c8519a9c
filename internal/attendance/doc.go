// Package attendance turns recognised identities into attendance marks.
//
// A Recorder enforces one effective mark per identity per cooldown window
// (cooldown mode) or per resolved session (session mode), and calls a Store
// only when that check passes. The in-memory cache is updated after a
// successful or already-recorded write, never after a failed one, so a
// transient store fault is retried on the next sighting. Store failures are
// reported as the StoreError outcome and never returned to the caller.
//
// Queue wraps a Recorder with a bounded background writer. The cache check
// runs before enqueueing, and identities already waiting are not queued a
// second time.
package attendance

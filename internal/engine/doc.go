// Package engine implements the tangle dispatch engine.
//
// An Engine receives arbitrary values as events. For each submission it:
//
//  1. Resolves the involvement set: the closure of the event under the
//     registered mappers, with identities substituted (package resolve).
//  2. Selects the interested listeners: matching target type, involvement
//     and filters, ordered by descending priority (package listener).
//  3. Invokes them in order on one shared Invocation until one discards
//     the submission, one fails, or all have run.
//
// EXECUTOR:
//
// Submissions start in FIFO order from the Run loop and run their listener
// sections one at a time: the engine has a single executor token. A handler
// that waits through Invocation.Await gives the token back meanwhile, so other
// submissions can progress; completion order then no longer follows
// submission order. A handler that blocks without Await keeps the token.
//
// Child tasks started with Invocation.Go run concurrently with the handlers.
// The submission finishes only after all of them returned; the first failing
// child fails the submission and cancels its siblings.
//
// FAILURES:
//
// Mapper, identity, filter, handler and child failures (returned errors and
// panics) are contained: they fail the affected submission, or for filters
// only the affected listener, and leave the engine usable.
package engine

// Package dispatch provides the bounded worker pool and the per-round
// fan-in barrier used to run chunk tasks.
//
// A Round counts outstanding tasks with an atomic counter; each completing
// task decrements it and the decrement that reaches zero invokes the
// round's finalize callback exactly once, regardless of completion order.
package dispatch

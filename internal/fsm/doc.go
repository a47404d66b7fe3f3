// Package fsm implements the lifecycle state machine for a single run.
//
// A run moves through planning, asset generation, rendering, and QA
// before reaching a terminal state. The transition table is fixed;
// callers probe legality with CanTransition and mutate through
// Transition, which serializes concurrent attempts per machine.
package fsm

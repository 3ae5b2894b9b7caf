// Package core implements the step interpreter: the small program
// language that action routes execute against a mutable, JSON-shaped
// context.
//
// A Program is an ordered list of Steps.  Each Step is a single-key
// tagged object ("set", "if", "run", "bridge:call", ...) possibly with
// companion properties ("to", "then", "with", "await", ...).  The
// interpreter runs a Program in strict order until the list is
// exhausted or a step raises the interrupt flag.  A "bridge:call" step
// with "await" suspends the run; the caller satisfies the call out of
// band and then re-enters the same Program with ResumingFrom set to
// the suspended step's index.
//
// Expression strings in "to", "if", and "with" positions are handed to
// a pluggable Evaluator (see package expr for the Goja-backed one).
package core

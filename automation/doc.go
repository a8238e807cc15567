// Package automation implements the declarative rule engine: boolean rule
// trees (AND/OR combinators over attribute/condition/value leaves) evaluated
// against user data, user metadata, or a UI-scope snapshot; time and
// mobile-event triggers; and an action registry invoked when an enabled
// automation becomes eligible.
//
// Evaluation is debounced so bursts of state changes trigger one pass, and a
// malformed automation never blocks evaluation of the others.
package automation

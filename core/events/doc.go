// Package events defines the timeline record model shared by the
// orchestration pipeline and the session-state backends.
//
// A StageEvent is append-only: once written to a session timeline it is
// never mutated, only pruned from the oldest end.
package events

// Package api defines the data model shared between the watch client and
// the remote orchestration engine: flow and step definitions, edge
// feedback-loop metadata, the event catalog consumed from the engine's
// stream, the projected execution state, and request/response messages
package api

// Package campaign holds the store contracts and the control surface for
// campaign dispatch.
//
// The Service here validates ownership and state for dispatch, pause, resume,
// schedule and delete requests, and hands execution to a Dispatcher (the
// worker package implements it). Store implementations live in
// repository/postgres/ and repository/memory/.
package campaign

// Package state keeps the live conversations of a running process.
// Nothing here survives a restart.
package state

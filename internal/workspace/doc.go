// Package workspace manages the working directories used for publish runs.
//
// A workspace is either ephemeral (a timestamped directory removed after the
// run) or persistent (a fixed directory that keeps the clone warm between
// runs).
package workspace

// Package git wraps go-git for the docpages publish flow: syncing the source
// repository, checking out the publishing branch, merging the stable branch,
// committing built output and pushing.
//
// All remote failures are classified into typed errors so callers never need
// to parse error strings.
package git

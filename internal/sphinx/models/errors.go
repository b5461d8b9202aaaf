package models

import "errors"

// Sentinel errors wrapped by stages so classification can stay structural.
var (
	ErrEnvironment = errors.New("environment setup failed")
	ErrBuild       = errors.New("documentation build failed")
	ErrOutput      = errors.New("build output invalid")
)

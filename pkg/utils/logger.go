// Package utils holds small helpers shared across the binary, currently
// just logger construction.
package utils

import "go.uber.org/zap"

// NewLogger returns the service logger. Debug mode gives human-readable
// console output at debug level; otherwise JSON at info level.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Package testutil holds flags and helpers shared by package tests.
package testutil

import (
	"flag"
	"testing"
)

var (
	Integration = flag.Bool("integration", false, "run integration tests against containers")
	RedisAddr   = flag.String("redis-addr", "", "redis address for queue integration tests")
)

// SkipIfNotIntegration skips the test unless -integration is set.
func SkipIfNotIntegration(t *testing.T) {
	t.Helper()
	if !*Integration {
		t.Skip("Skipping integration test")
	}
}

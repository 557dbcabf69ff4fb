//go:build integration

package integration

import (
	"fmt"
	"sync/atomic"
)

const testPassword = "correct-horse"

var userSeq atomic.Int64

// TestUsername returns a username unique within the test run
func TestUsername(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, userSeq.Add(1))
}

func strPtr(s string) *string { return &s }

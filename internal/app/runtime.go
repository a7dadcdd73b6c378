package app

import (
	"os"
	"sync"
)

// testModeEnv is set by the testing package so binaries started from tests
// exit before dialing Redis or PostgreSQL.
const testModeEnv = "SNIES_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	return os.Getenv(testModeEnv) == "1"
})

// InTestMode reports whether the process runs under tests.
func InTestMode() bool {
	return testMode()
}

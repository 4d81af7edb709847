// Package testing pins the environment that package tests run under. Test
// files blank-import it so cmd binaries stay inert and config loading never
// reaches for a live Redis.
package testing

import "os"

var testEnv = map[string]string{
	"ADMIN_TEST_MODE":    "1",
	"AUTH_DEFAULT_GUARD": "web",
	"PERMISSION_CACHE":   "memory",
	"LOG_LEVEL":          "error",
}

func init() {
	for key, value := range testEnv {
		if _, set := os.LookupEnv(key); !set {
			_ = os.Setenv(key, value)
		}
	}
}

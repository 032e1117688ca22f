package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("TRADEWIND_TEST_MODE") == "" {
			_ = os.Setenv("TRADEWIND_TEST_MODE", "1")
		}
	})
}

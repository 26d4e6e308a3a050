package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittosync/pkg/content"
)

// StoreTestSuite is a comprehensive test suite for content.Store implementations.
// It tests the interface contract, not implementation details, making it reusable
// across different implementations (memory, filesystem, S3).
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &testing.StoreTestSuite{
//	        NewStore: func() content.Store {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore is a factory function that creates a fresh, empty Store for
	// each test. This ensures test isolation.
	NewStore func() content.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("ReadOperations", suite.RunReadTests)
	t.Run("WriteOperations", suite.RunWriteTests)
	t.Run("Paths", suite.RunPathTests)
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}

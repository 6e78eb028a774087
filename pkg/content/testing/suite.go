package testing

import (
	"context"
	"testing"

	"github.com/marmos91/h5fs/pkg/content"
)

// StoreTestSuite is a comprehensive test suite for ContentStore implementations.
// It tests the interface contract, not implementation details, making it reusable
// across different implementations (memory, filesystem, S3).
//
// Usage:
//
//	func TestMyContentStore(t *testing.T) {
//	    suite := &contenttesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) content.WritableContentStore {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore is a factory function that creates a fresh store instance
	// for each test. This ensures test isolation.
	NewStore func(t *testing.T) content.WritableContentStore
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("ReadAt", suite.RunReadAtTests)
	t.Run("Metadata", suite.RunMetadataTests)
	t.Run("Write", suite.RunWriteTests)
	t.Run("GC", suite.RunGCTests)
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}

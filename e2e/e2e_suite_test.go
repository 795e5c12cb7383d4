package e2e

import (
	"testing"

	"github.com/onsi/ginkgo/v2"

	"github.com/onsi/gomega"

	// Register tests
	_ "github.com/loft-sh/wsmaster/e2e/tests/lifecycle"
	_ "github.com/loft-sh/wsmaster/e2e/tests/persistence"
	_ "github.com/loft-sh/wsmaster/e2e/tests/temporary"
)

// TestRunE2ETests runs the e2e specs against an in-process daemon backed by
// a sqlite store and fake machines.
func TestRunE2ETests(t *testing.T) {
	gomega.RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "wsmaster e2e suite")
}

package temporary

import "github.com/onsi/ginkgo/v2"

// WsmasterDescribe annotates the test with the label.
func WsmasterDescribe(text string, body func()) bool {
	return ginkgo.Describe("[temporary] "+text, body)
}

package workspace

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	resourceNameRegEx1 = regexp.MustCompile(`[^\w\-.]`)
	resourceNameRegEx2 = regexp.MustCompile(`[^0-9a-z\-.]+`)
)

// NewID generates a new workspace id
func NewID() string {
	return "workspace" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// ToResourceName joins the given parts into a lowercase name that can be used
// for engine resources such as containers and images
func ToResourceName(parts ...string) string {
	str := strings.ToLower(strings.Join(parts, "-"))
	str = resourceNameRegEx2.ReplaceAllString(resourceNameRegEx1.ReplaceAllString(str, "-"), "")
	if len(str) > 63 {
		str = str[:63]
	}

	return strings.Trim(str, "-.")
}

package clustersync

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// newOwnerToken mints a per-write owner token: "<processId>.<12 chars>".
// The random component only needs to be collision-resistant within one
// write attempt, so a UUIDv4 is truncated rather than generated fresh from
// a dedicated CSPRNG call.
func newOwnerToken() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	if len(suffix) > 12 {
		suffix = suffix[:12]
	}
	return fmt.Sprintf("%d.%s", os.Getpid(), suffix)
}

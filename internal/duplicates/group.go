package duplicates

import (
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// groupNamespace scopes duplicate group ids.
var groupNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("kestrel.duplicates.group"))

// groupKey derives a stable opaque id from the scenario and the sorted
// member keys, so the same group gets the same id in every run.
func groupKey(scenarioID int, rows []int, pks []string) string {
	members := make([]string, len(rows))
	for k, r := range rows {
		members[k] = pks[r]
	}
	sort.Strings(members)
	name := strconv.Itoa(scenarioID) + "|" + strings.Join(members, "\x1f")
	return uuid.NewSHA1(groupNamespace, []byte(name)).String()
}

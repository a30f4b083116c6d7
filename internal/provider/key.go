package provider

import (
	"fmt"
	"sort"
	"strings"
)

// CanonicalQueryString renders a DataMap as a sorted "k=v&k2=v2" string,
// used by DerivedAPIKey and by the application manager's coalescing key.
// Provider-declared upstream-response keys are request URLs, not this
// form.
func CanonicalQueryString(d DataMap) string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, d[k]))
	}
	return strings.Join(parts, "&")
}

// DerivedAPIKey formats a manager-level derived-api cache key as
// "<op>_<hub_uuid>_<sorted-app-data-query-string>".
func DerivedAPIKey(op, hubUUID string, appData DataMap) string {
	return fmt.Sprintf("%s_%s_%s", op, hubUUID, CanonicalQueryString(appData))
}

// Copyright 2025 James Ross
package domain

import "strconv"

// trimFloat renders a float64 the way a JSON number would appear in a query
// string: integral values without a trailing ".0".
func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// CoerceMetadataValue renders an arbitrary metadata value as the string form
// it will be compared against in the secondary index and in Subscription
// filter matching, keeping IndexMetadata/JobsByMetadata and Matches on the
// same coercion rule (see toComparableString).
func CoerceMetadataValue(v interface{}) string {
	return toComparableString(v)
}

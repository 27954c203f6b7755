package matching

import (
	"testing"

	"bloodlink/testutil"
)

func TestMatchingReachesStorageThroughDomain(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InfraImportForbidden, "matching uses domain.PersistentStore")
}

package memory

import (
	"testing"

	"github.com/code-payments/code-test-client/pkg/data/outcome/tests"
)

func TestOutcomeMemoryStore(t *testing.T) {
	testStore := New()
	teardown := func() {
		testStore.(*store).reset()
	}

	tests.RunTests(t, testStore, teardown)
}

package access_test

import (
	"testing"

	"accessgate.dev/internal/access"
	"accessgate.dev/internal/access/accesstest"
)

func TestInMemoryStoreContract(t *testing.T) {
	accesstest.Run(t, func(*testing.T) access.Store { return access.NewInMemory() })
}

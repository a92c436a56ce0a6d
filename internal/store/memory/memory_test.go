package memory

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/example/hotel-refunds/internal/store"
	"github.com/example/hotel-refunds/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &storetest.Suite{NewStore: func() store.Store { return New() }})
}

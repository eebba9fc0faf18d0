package datastore

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
)

// MockDataStore mocks the DataStore interface
type MockDataStore struct {
	mock.Mock
}

// FindOwnerRecord mocks the FindOwnerRecord method
func (m *MockDataStore) FindOwnerRecord(ctx context.Context, owner interfaces.OwnerID) (*interfaces.OwnerRecord, error) {
	args := m.Called(ctx, owner)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*interfaces.OwnerRecord), args.Error(1)
}

package platform

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/mock"

	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
)

// MockPlatformAPI mocks the PlatformAPI interface
type MockPlatformAPI struct {
	mock.Mock
}

// CreateInstance mocks the CreateInstance method
func (m *MockPlatformAPI) CreateInstance(ctx context.Context, controllers []interfaces.OwnerID, funding *uint256.Int) (interfaces.InstanceID, error) {
	args := m.Called(ctx, controllers, funding)
	return args.Get(0).(interfaces.InstanceID), args.Error(1)
}

// InstallImage mocks the InstallImage method
func (m *MockPlatformAPI) InstallImage(ctx context.Context, instanceID interfaces.InstanceID, image []byte, initArgs []byte) error {
	args := m.Called(ctx, instanceID, image, initArgs)
	return args.Error(0)
}

// UpdateControllers mocks the UpdateControllers method
func (m *MockPlatformAPI) UpdateControllers(ctx context.Context, instanceID interfaces.InstanceID, controllers []interfaces.OwnerID) error {
	args := m.Called(ctx, instanceID, controllers)
	return args.Error(0)
}

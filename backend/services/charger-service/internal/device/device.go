package device

import (
	"context"

	"ampease/backend/services/charger-service/internal/models"
)

// Device is one smart outlet as exposed by the cloud service.
type Device interface {
	Alias() string
	IsOn(ctx context.Context) (bool, error)
	PowerOn(ctx context.Context) error
	PowerOff(ctx context.Context) error
	Toggle(ctx context.Context) error
	Location(ctx context.Context) (models.Coordinates, error)
}

// Manager lists the devices registered to the cloud account.
type Manager interface {
	Devices(ctx context.Context) ([]Device, error)
}

package workforce

import "context"

// Directory resolves workers and their provider organizations.
type Directory interface {
	GetWorker(ctx context.Context, id string) (*Worker, error)
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	// ListAvailableWorkers returns active workers of org offering subtype,
	// ordered by worker id, leaving out exclude.
	ListAvailableWorkers(ctx context.Context, orgID, subtype, exclude string) ([]*Worker, error)
}

// DeviceRegistry maps a mobile number to the push token of its device.
type DeviceRegistry interface {
	// GetActiveDeviceToken returns the most recently registered active token
	// for mobile, or ErrNoDevice.
	GetActiveDeviceToken(ctx context.Context, mobile string) (string, error)
	RegisterDevice(ctx context.Context, d *DeviceToken) error
}

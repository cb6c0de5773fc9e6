// Package store persists device records. The registry keeps the working
// set in memory and writes every mutation through to a DeviceStore.
package store

import (
	"context"

	"displayfleet/models"
)

type DeviceStore interface {
	SaveDevice(ctx context.Context, d *models.Device) error
	LoadDevices(ctx context.Context) ([]*models.Device, error)
}

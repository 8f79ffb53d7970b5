package model

// Negotiator splits the k-mers of each file between devices.
// All methods must be safe for concurrent use by every hasher.
type Negotiator interface {
	// UpdateCapacity records the static capacity ceiling of a device.
	UpdateCapacity(class DeviceClass, index int, capacity uint64)

	// UpdateThroughput records the k-mers per second measured by a device
	// over its last extraction window.
	UpdateThroughput(class DeviceClass, index int, throughput float64)

	// GetSplitRatio returns the share of the file's k-mers assigned to the
	// device, in (0,1].
	GetSplitRatio(class DeviceClass, index int, file FileID) float64
}

package antibot

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/finova-net/finova-sub005/pkg/models"
)

// Network-wide sweep thresholds (spec.md §4.5): groups above these sizes
// flag every member as a suspected device farm.
const (
	DeviceFarmIPThreshold     = 20
	DeviceFarmDeviceThreshold = 5
)

// GroupSource enumerates all (user, ip, device_hash) triples currently
// tracked by the sharded device/IP counters (spec.md §5's "sharded
// counters with 24h TTL; eventual consistency acceptable").
type GroupSource interface {
	AllUserNetworkKeys(ctx context.Context) ([]UserNetworkKey, error)
}

// UserNetworkKey associates a user with their current IP and device hash.
type UserNetworkKey struct {
	UserID     models.UserId
	IP         string
	DeviceHash string
}

// SweepResult is the set of users flagged by one sweep pass.
type SweepResult struct {
	FlaggedByIP     map[models.UserId]string // user -> offending IP
	FlaggedByDevice map[models.UserId]string // user -> offending device hash
}

// Sweep groups users by IP and by device hash and flags every member of
// a group whose size exceeds the network-wide thresholds.
func Sweep(ctx context.Context, source GroupSource, logger zerolog.Logger) (SweepResult, error) {
	keys, err := source.AllUserNetworkKeys(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	byIP := make(map[string][]models.UserId)
	byDevice := make(map[string][]models.UserId)
	for _, k := range keys {
		if k.IP != "" {
			byIP[k.IP] = append(byIP[k.IP], k.UserID)
		}
		if k.DeviceHash != "" {
			byDevice[k.DeviceHash] = append(byDevice[k.DeviceHash], k.UserID)
		}
	}

	result := SweepResult{
		FlaggedByIP:     make(map[models.UserId]string),
		FlaggedByDevice: make(map[models.UserId]string),
	}
	for ip, users := range byIP {
		if len(users) > DeviceFarmIPThreshold {
			for _, u := range users {
				result.FlaggedByIP[u] = ip
			}
		}
	}
	for device, users := range byDevice {
		if len(users) > DeviceFarmDeviceThreshold {
			for _, u := range users {
				result.FlaggedByDevice[u] = device
			}
		}
	}
	if len(result.FlaggedByIP) > 0 || len(result.FlaggedByDevice) > 0 {
		logger.Info().
			Int("flagged_by_ip", len(result.FlaggedByIP)).
			Int("flagged_by_device", len(result.FlaggedByDevice)).
			Msg("antibot: network-wide sweep flagged accounts")
	}
	return result, nil
}

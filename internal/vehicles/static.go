package vehicles

import (
	"context"
	"fmt"

	"github.com/rb/deliverytrack-go/pkg/config"
)

// StaticSource serves vehicles from the config file. Used on dev boxes and
// in tests where no catalog database is available.
type StaticSource struct {
	byID map[string]Vehicle
}

// NewStaticSource indexes the configured vehicle list.
func NewStaticSource(list []config.StaticVehicle) *StaticSource {
	byID := make(map[string]Vehicle, len(list))
	for _, v := range list {
		byID[v.ID] = Vehicle{
			ID:                 v.ID,
			Name:               v.Name,
			RegistrationNumber: v.RegistrationNumber,
			Tracking: Tracking{
				ID:    v.TrackingID,
				Plate: v.TrackingPlate,
			},
		}
	}
	return &StaticSource{byID: byID}
}

func (s *StaticSource) VehicleByID(_ context.Context, id string) (*Vehicle, error) {
	v, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &v, nil
}

package services

import "github.com/bobby-s-dev/airquality-harvester/internal/models"

// Latest duplicates the last of a station's chronologically ordered hourly
// entities under the station's stable latest id. It reports false when there
// is nothing to duplicate.
func Latest(entities []*models.Entity) (*models.Entity, bool) {
	if len(entities) == 0 {
		return nil, false
	}

	latest := entities[len(entities)-1].Clone()
	latest.ID = models.LatestEntityID(latest.StationCode)
	return latest, true
}

package services

import "github.com/soaringjerry/Emtrip/internal/models"

// MatchStoredAnswer returns the data of the first answer whose trip timestamps
// equal trip's exactly. Later matches are ignored, never merged.
func MatchStoredAnswer(answers []models.StoredAnswer, trip *models.TripProperties) (string, bool) {
	if trip == nil {
		return "", false
	}
	for _, ans := range answers {
		if ans.TripProperties == nil {
			continue
		}
		if ans.TripProperties.Same(*trip) {
			return ans.Data, true
		}
	}
	return "", false
}

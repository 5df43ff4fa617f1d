package decrypt

import (
	"github.com/ternarybob/jcx/internal/models"
)

// Summary counts the outcome of a run
type Summary struct {
	Total     int
	Decrypted int
	Failed    int
	ByKind    map[models.ErrorKind]int
	Failures  []models.DecryptionResult
}

// Summarize counts decrypted and failed results and the failure kind of each record
func Summarize(results []models.DecryptionResult) Summary {
	s := Summary{
		Total:  len(results),
		ByKind: make(map[models.ErrorKind]int),
	}
	for _, r := range results {
		if r.OK() {
			s.Decrypted++
			continue
		}
		s.Failed++
		s.ByKind[r.Kind()]++
		s.Failures = append(s.Failures, r)
	}
	return s
}

// Collect drains a result stream and returns the results in record order
func Collect(records []models.CredentialRecord, results <-chan models.DecryptionResult) []models.DecryptionResult {
	byID := make(map[string]models.DecryptionResult, len(records))
	for r := range results {
		byID[r.ID] = r
	}

	ordered := make([]models.DecryptionResult, 0, len(records))
	for _, rec := range records {
		if r, ok := byID[rec.ID]; ok {
			ordered = append(ordered, r)
		}
	}
	return ordered
}

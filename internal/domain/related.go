package domain

import "strings"

// RelatedResource describes one secondary collection to pull per root event.
// QueryTemplate contains the placeholder "{id}", substituted with the root
// event id at fetch time. The list is configuration, not runtime data.
type RelatedResource struct {
	Type          string `yaml:"type" json:"type"`
	QueryTemplate string `yaml:"query" json:"query"`
}

// Query renders the template for a concrete root id.
func (r RelatedResource) Query(rootID string) string {
	return strings.ReplaceAll(r.QueryTemplate, "{id}", rootID)
}

// DefaultRelatedResources is the built-in pull list: the secondary record
// kinds associated with a clinical encounter, each queried by encounter id.
func DefaultRelatedResources() []RelatedResource {
	return []RelatedResource{
		{Type: "Observation", QueryTemplate: "Observation?encounter={id}"},
		{Type: "Condition", QueryTemplate: "Condition?encounter={id}"},
		{Type: "Procedure", QueryTemplate: "Procedure?encounter={id}"},
		{Type: "MedicationRequest", QueryTemplate: "MedicationRequest?encounter={id}"},
		{Type: "DiagnosticReport", QueryTemplate: "DiagnosticReport?encounter={id}"},
	}
}

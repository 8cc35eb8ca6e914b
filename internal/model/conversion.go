package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// ConversionType explains why a lead left the active queue.
type ConversionType string

const (
	ConversionSignatureObtained     ConversionType = "signature_obtained"
	ConversionRequirementsCompleted ConversionType = "requirements_completed"
	ConversionScoredOut             ConversionType = "scored_out"
	ConversionNoLongerEligible      ConversionType = "no_longer_eligible"
)

// ParseConversionType validates a raw conversion type string.
func ParseConversionType(s string) (ConversionType, error) {
	switch ConversionType(s) {
	case ConversionSignatureObtained, ConversionRequirementsCompleted,
		ConversionScoredOut, ConversionNoLongerEligible:
		return ConversionType(s), nil
	default:
		return "", eris.Errorf("model: unknown conversion type %q", s)
	}
}

// ConversionForCategory maps a lead's exit category to the conversion type
// that a clean category exit implies.
func ConversionForCategory(c Category) ConversionType {
	switch c {
	case CategoryUnsigned:
		return ConversionSignatureObtained
	case CategoryOutstandingRequirements:
		return ConversionRequirementsCompleted
	default:
		return ConversionNoLongerEligible
	}
}

// ConversionRecord is the permanent ledger row written when a lead exits.
// At most one record per person may exist inside the dedup window.
type ConversionRecord struct {
	ID                 string         `json:"id"`
	PersonID           string         `json:"person_id"`
	PreviousCategory   *Category      `json:"previous_category,omitempty"`
	Type               ConversionType `json:"conversion_type"`
	FinalScore         int            `json:"final_score"`
	TotalAttempts      int            `json:"total_attempts"`
	PrimaryAgentID     *string        `json:"primary_agent_id,omitempty"`
	ContributingAgents []string       `json:"contributing_agents,omitempty"`
	Recovered          bool           `json:"recovered"`
	ConvertedAt        time.Time      `json:"converted_at"`
}

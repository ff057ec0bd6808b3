/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - pipeline/runner.go: RunResult, returned as-is (already JSON-tagged)
*/
package api

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// StoreDTO represents one configured store and its progress cursor.
type StoreDTO struct {
	Name        string `json:"name"`
	StoreID     int    `json:"store_id"`
	LastEventAt string `json:"last_event_at,omitempty"`
	LastDate    string `json:"last_date,omitempty"`
}

// PointDTO represents one sparse snapshot row.
type PointDTO struct {
	ProductID  int    `json:"product_id"`
	Date       string `json:"date"`
	StartOfDay int64  `json:"start_of_day"`
}

// BalanceDTO is a forward-filled balance lookup result.
type BalanceDTO struct {
	StoreID   int    `json:"store_id"`
	ProductID int    `json:"product_id"`
	Date      string `json:"date"`
	Balance   int64  `json:"balance"`
	Known     bool   `json:"known"` // false when no snapshot exists at or before the date
}

// SeedRequest asks for a full rebuild of one store.
type SeedRequest struct {
	Store string `json:"store"`
}

// ExclusionDTO represents one exclusion-log row.
type ExclusionDTO struct {
	StoreID       int    `json:"store_id"`
	ProductID     int    `json:"product_id"`
	RecordID      string `json:"record_id,omitempty"`
	EffectiveDate string `json:"effective_date"`
	Reason        string `json:"reason"`
	Detail        string `json:"detail,omitempty"`
	DetectedAt    string `json:"detected_at"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

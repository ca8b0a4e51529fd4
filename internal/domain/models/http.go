package models

// Requests for the monitoring HTTP endpoints. Defined in domain for consistency and reuse.

type DriftSummaryRequest struct {
	Hours int `query:"hours" json:"hours" default:"24" validate:"gte=1,lte=168"`
}

type DriftEventsRequest struct {
	Hours int `query:"hours" json:"hours" default:"24" validate:"gte=1,lte=168"`
	Limit int `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=1000"`
}

type RetrainingHistoryRequest struct {
	ModelID string `query:"model_id" json:"model_id"`
	Hours   int    `query:"hours" json:"hours" default:"24" validate:"gte=1,lte=720"`
}

type ManualRetrainRequest struct {
	ModelID string `param:"model_id" json:"model_id" validate:"required"`
}

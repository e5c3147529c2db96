package api

import (
	"github.com/manthysbr/censord/internal/core/domain"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type WorkerRequest struct {
	Address string `json:"address"`
}

type RegistrationResponse struct {
	Status  domain.RegistrationStatus `json:"status"`
	Address string                    `json:"address,omitempty"`
}

type SubmitRequest struct {
	Text string `json:"text"`
}

type SubmitResponse struct {
	Status   string `json:"status"`
	JobID    string `json:"job_id"`
	Seq      int64  `json:"seq"`
	Original string `json:"original"`
	Filtered string `json:"filtered"`
	Worker   string `json:"worker"`
}

// ErrorResponse carries a domain error kind so clients can decide whether to retry.
type ErrorResponse struct {
	Status    string `json:"status"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

type ResultsResponse struct {
	Results []domain.Result `json:"results"`
	Count   int             `json:"count"`
}

type WorkersResponse struct {
	Workers []domain.WorkerHandle `json:"workers"`
	Count   int                   `json:"count"`
}

type BacklogResponse struct {
	Pending int `json:"pending"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Workers int    `json:"workers"`
}

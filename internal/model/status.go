package model

// Status is the outcome reported to clients for a mutating request
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

package model

import "time"

// RunStatus marks whether a compare run's rows are complete.
type RunStatus string

const (
	RunStatusComplete RunStatus = "complete"
)

// CompareRun is one persisted execution of the comparison pipeline.
type CompareRun struct {
	ID           string    `json:"id"`
	OrgID        string    `json:"orgId"`
	YouVendorID  string    `json:"youVendorId"`
	CompVendorID string    `json:"compVendorId"`
	Version      int       `json:"version"`
	Status       RunStatus `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CompareRow is one metric of a compare run, one cell per side.
type CompareRow struct {
	ID              string   `json:"id"`
	RunID           string   `json:"runId"`
	Metric          Lane     `json:"metric"`
	YouText         string   `json:"youText"`
	CompText        string   `json:"compText"`
	YouCitations    []string `json:"youCitations"`
	CompCitations   []string `json:"compCitations"`
	AnswerScoreYou  float64  `json:"answerScoreYou"`
	AnswerScoreComp float64  `json:"answerScoreComp"`
}

// CompareRunDetail is a run together with its rows.
type CompareRunDetail struct {
	Run  CompareRun   `json:"run"`
	Rows []CompareRow `json:"rows"`
}

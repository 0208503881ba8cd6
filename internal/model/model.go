// Package model defines the durable and transient entities shared across the
// catalog, job runner, retry executor and adapter packages.
package model

import (
	"time"

	"github.com/ascensum/genimagefactory/internal/config"
)

// ExecutionStatus is the lifecycle state of an Execution row.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionStopped   ExecutionStatus = "stopped"
)

// QCStatus is the lifecycle state of a GeneratedImage row.
type QCStatus string

const (
	QCPending      QCStatus = "pending"
	QCApproved     QCStatus = "approved"
	QCFailed       QCStatus = "qc_failed"
	QCRetryPending QCStatus = "retry_pending"
	QCRetryFailed  QCStatus = "retry_failed"
)

// Configuration is a user-saved preset of pipeline settings.
type Configuration struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Settings  config.Settings  `db:"-" json:"settings"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// ExecutionTotals tracks the running count of settled outcomes for an
// Execution. Successful + Failed must never exceed Total.
type ExecutionTotals struct {
	Total      int `db:"total" json:"total"`
	Successful int `db:"successful" json:"successful"`
	Failed     int `db:"failed" json:"failed"`
}

// Execution is a single run of a Configuration.
type Execution struct {
	ID              int64           `db:"id" json:"id"`
	ConfigurationID *int64          `db:"configuration_id" json:"configurationId,omitempty"`
	Label           *string         `db:"label" json:"label,omitempty"`
	Status          ExecutionStatus `db:"status" json:"status"`
	Totals          ExecutionTotals `db:"-" json:"totals"`
	StartedAt       time.Time       `db:"started_at" json:"startedAt"`
	CompletedAt     *time.Time      `db:"completed_at" json:"completedAt,omitempty"`
	ErrorMessage    *string         `db:"error_message" json:"errorMessage,omitempty"`
	SettingsSnapshot config.Settings `db:"-" json:"settingsSnapshot"`
}

// Metadata is the LLM-generated description of an approved image.
type Metadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// GeneratedImage is one candidate image and its pipeline outcome.
type GeneratedImage struct {
	ID                 int64      `db:"id" json:"id"`
	ExecutionID        *int64     `db:"execution_id" json:"executionId,omitempty"`
	MappingID          string     `db:"mapping_id" json:"mappingId"`
	Prompt             string     `db:"prompt" json:"prompt"`
	Seed               *int64     `db:"seed" json:"seed,omitempty"`
	QCStatus           QCStatus   `db:"qc_status" json:"qcStatus"`
	QCReason           *string    `db:"qc_reason" json:"qcReason,omitempty"`
	FinalPath          *string    `db:"final_path" json:"finalPath,omitempty"`
	Metadata           *Metadata  `db:"-" json:"metadata,omitempty"`
	ProcessingSettings config.ProcessingSnapshot `db:"-" json:"processingSettings"`
	CreatedAt          time.Time  `db:"created_at" json:"createdAt"`
}

// Job is the transient, in-memory drive of one Execution. It is never
// persisted as a row; JobRunner owns its lifetime exclusively.
type Job struct {
	ExecutionID      int64
	SettingsSnapshot config.Settings
	Progress         Progress
}

// Progress is the mutable counters a running Job reports through job.progress
// events.
type Progress struct {
	GenerationsPlanned int
	GenerationsDone    int
	ImagesDone         int
	ImagesTotal        int
	CurrentStage       string
}

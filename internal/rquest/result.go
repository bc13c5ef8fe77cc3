package rquest

import (
	"encoding/base64"
	"encoding/json"
)

// ProtocolVersion is the version stamped on every result.
const ProtocolVersion = "v2"

// Result statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Distribution file names and the fixed file type.
const (
	FileNameDemographics = "demographics.distribution"
	FileNameCode         = "code.distribution"
	FileTypeBCOS         = "BCOS"
)

// File is one base64-wrapped TSV artifact attached to a result.
type File struct {
	Name        string  `json:"file_name"`
	Data        string  `json:"file_data"`
	Description string  `json:"file_description"`
	Reference   string  `json:"file_reference"`
	Sensitive   bool    `json:"file_sensitive"`
	Size        float64 `json:"file_size"`
	Type        string  `json:"file_type"`
}

// NewTSVFile wraps a UTF-8 TSV document as a result file. Size is the
// base64 payload length divided by 1000, the protocol's notion of KB.
func NewTSVFile(name, description string, tsv []byte) File {
	data := base64.StdEncoding.EncodeToString(tsv)
	return File{
		Name:        name,
		Data:        data,
		Description: description,
		Sensitive:   true,
		Size:        float64(len(data)) / 1000,
		Type:        FileTypeBCOS,
	}
}

// DecodeData returns the decoded TSV payload of the file.
func (f File) DecodeData() ([]byte, error) {
	return base64.StdEncoding.DecodeString(f.Data)
}

// QueryResult is the inner payload of a Result.
type QueryResult struct {
	Count        int64  `json:"count"`
	DatasetCount int    `json:"datasetCount"`
	Files        []File `json:"files"`
}

// Result is the protocol-conformant response returned to the coordinator.
type Result struct {
	Status          string      `json:"status"`
	ProtocolVersion string      `json:"protocolVersion"`
	UUID            string      `json:"uuid"`
	QueryResult     QueryResult `json:"queryResult"`
	Message         string      `json:"message"`
	CollectionID    string      `json:"collection_id"`
}

// NewAvailabilityResult shapes a successful availability response.
// Availability results carry no datasets.
func NewAvailabilityResult(uuid, collection string, count int64) *Result {
	return &Result{
		Status:          StatusOK,
		ProtocolVersion: ProtocolVersion,
		UUID:            uuid,
		CollectionID:    collection,
		QueryResult: QueryResult{
			Count:        count,
			DatasetCount: 0,
			Files:        []File{},
		},
	}
}

// NewDistributionResult shapes a successful distribution response carrying
// one dataset file.
func NewDistributionResult(uuid, collection string, count int64, file File) *Result {
	return &Result{
		Status:          StatusOK,
		ProtocolVersion: ProtocolVersion,
		UUID:            uuid,
		CollectionID:    collection,
		QueryResult: QueryResult{
			Count:        count,
			DatasetCount: 1,
			Files:        []File{file},
		},
	}
}

// NewErrorResult shapes an error response. Counts are zeroed so nothing
// leaks on the failure path.
func NewErrorResult(uuid, collection, message string) *Result {
	return &Result{
		Status:          StatusError,
		ProtocolVersion: ProtocolVersion,
		UUID:            uuid,
		CollectionID:    collection,
		Message:         message,
		QueryResult: QueryResult{
			Files: []File{},
		},
	}
}

// Marshal serialises the result with the exact wire keys.
func (r *Result) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

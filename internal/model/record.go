package model

import "time"

// Record types.
const (
	RecordPrescription = "prescription"
	RecordScan         = "scan"
	RecordLabResult    = "lab_result"
	RecordOther        = "other"
)

// Processing states of a record's attached file.
const (
	StatusIdle       = "idle"
	StatusProcessing = "processing"
	StatusComplete   = "complete"
	StatusFailed     = "failed"
)

// VisitDateLayout is the wire and storage format of VisitDate.
const VisitDateLayout = "2006-01-02"

// IsRecordType reports whether t is a known record type.
func IsRecordType(t string) bool {
	switch t {
	case RecordPrescription, RecordScan, RecordLabResult, RecordOther:
		return true
	}
	return false
}

// MedicalRecord is a user-owned document entry.
//
// The file fields come as a set: FileURL, FilePath, FileName, FileSize and
// FileType are either all nil or all set (see Attachment).
type MedicalRecord struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	Title        string `json:"title"`
	Type         string `json:"type"`
	HospitalName string `json:"hospital_name"`
	VisitDate    string `json:"visit_date"`

	FileURL  *string `json:"file_url"`
	FilePath *string `json:"file_path,omitempty"` // object key, internal
	FileName *string `json:"file_name"`
	FileSize *int64  `json:"file_size"`
	FileType *string `json:"file_type"`

	// DownloadURL is a short-lived signed link, set only on single-record reads.
	DownloadURL *string `json:"download_url,omitempty"`

	Notes       *string `json:"notes"`
	TextContent *string `json:"text_content"`

	ProcessingStatus string     `json:"processing_status"`
	ProcessedAt      *time.Time `json:"processed_at"`
	ProcessingError  *string    `json:"processing_error"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Attachment describes an uploaded file backing a record.
type Attachment struct {
	URL  string
	Path string
	Name string
	Size int64
	Type string
}

// Attach sets all file fields at once.
func (r *MedicalRecord) Attach(a Attachment) {
	r.FileURL = &a.URL
	r.FilePath = &a.Path
	r.FileName = &a.Name
	r.FileSize = &a.Size
	r.FileType = &a.Type
}

// HasFile reports whether the record has an attached file.
func (r *MedicalRecord) HasFile() bool {
	return r.FilePath != nil && *r.FilePath != ""
}

// RecordFilter narrows a record listing. Empty fields are ignored.
type RecordFilter struct {
	Type         string
	HospitalName string
	Search       string // case-insensitive substring of title or hospital_name
	IDs          []string
}

// NameCount is one entry of a top-N list.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// RecordStats aggregates a user's records.
type RecordStats struct {
	TotalRecords             int            `json:"totalRecords"`
	RecordsByType            map[string]int `json:"recordsByType"`
	RecordsByHospital        map[string]int `json:"recordsByHospital"`
	RecordsWithFiles         int            `json:"recordsWithFiles"`
	TotalFileSize            int64          `json:"totalFileSize"`
	TotalFileSizeFormatted   string         `json:"totalFileSizeFormatted"`
	AverageFileSize          int64          `json:"averageFileSize"`
	AverageFileSizeFormatted string         `json:"averageFileSizeFormatted"`
	TopHospitals             []NameCount    `json:"topHospitals"`
	TopTypes                 []NameCount    `json:"topTypes"`
}

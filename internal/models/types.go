package models

import (
	"fmt"
	"time"
)

// SyncMode is the coarse scan strategy state for one account.
type SyncMode string

const (
	SyncModeNeverSynced    SyncMode = "never_synced"
	SyncModeFullSyncNeeded SyncMode = "full_sync_needed"
	SyncModeIncremental    SyncMode = "incremental"
)

// RecentIDCap bounds SyncState.RecentlyProcessed. Oldest entries are
// evicted once the cap is reached.
const RecentIDCap = 200

// MailboxAccount describes one user's mail source. Credentials arrive
// already decrypted from the account directory and must never be logged.
type MailboxAccount struct {
	ID              string `json:"id" yaml:"id"`
	Server          string `json:"server" yaml:"server"`
	Port            int    `json:"port" yaml:"port"`
	Username        string `json:"username" yaml:"username"`
	Password        string `json:"-" yaml:"password"`
	AuthMethod      string `json:"auth_method" yaml:"auth_method"` // "password" or "xoauth2"
	Provider        string `json:"provider,omitempty" yaml:"provider,omitempty"`
	TLS             bool   `json:"tls" yaml:"tls"`
	Folder          string `json:"folder" yaml:"folder"`
	DefaultDaysBack int    `json:"default_days_back" yaml:"default_days_back"`
	Enabled         bool   `json:"enabled" yaml:"enabled"`
}

// Addr returns the host:port dial address for the account.
func (a MailboxAccount) Addr() string {
	return fmt.Sprintf("%s:%d", a.Server, a.Port)
}

// SyncState tracks scan progress for one account. It is created on the
// first scan and only ever advanced by the scanner after a successful
// batch, so an interrupted scan resumes safely.
type SyncState struct {
	AccountID             string    `json:"account_id"`
	LastProcessedUID      uint32    `json:"last_processed_uid"`
	Mode                  SyncMode  `json:"mode"`
	LastFullSyncAt        time.Time `json:"last_full_sync_at"`
	LastIncrementalSyncAt time.Time `json:"last_incremental_sync_at"`
	TotalIndexed          int64     `json:"total_indexed"`
	RecentlyProcessed     []uint32  `json:"recently_processed"`
}

// NewSyncState returns the initial state for an account that has never
// been scanned.
func NewSyncState(accountID string) *SyncState {
	return &SyncState{
		AccountID: accountID,
		Mode:      SyncModeNeverSynced,
	}
}

// WasProcessed reports whether uid is in the recently processed window.
func (s *SyncState) WasProcessed(uid uint32) bool {
	for _, id := range s.RecentlyProcessed {
		if id == uid {
			return true
		}
	}
	return false
}

// RememberProcessed records uid in the bounded recently processed window,
// evicting the oldest entry when the cap is reached.
func (s *SyncState) RememberProcessed(uid uint32) {
	if s.WasProcessed(uid) {
		return
	}
	s.RecentlyProcessed = append(s.RecentlyProcessed, uid)
	if overflow := len(s.RecentlyProcessed) - RecentIDCap; overflow > 0 {
		s.RecentlyProcessed = s.RecentlyProcessed[overflow:]
	}
}

// ScanResult summarizes one scan of one account. It is returned to the
// caller, appended to scan history, and aggregated by the batch
// coordinator.
type ScanResult struct {
	AccountID       string    `json:"account_id"`
	TotalChecked    int       `json:"total_checked"`
	NewMessages     int       `json:"new_messages"`
	PdfsFound       int       `json:"pdfs_found"`
	PdfsProcessed   int       `json:"pdfs_processed"`
	Errors          []string  `json:"errors,omitempty"`
	DurationSeconds float64   `json:"duration_seconds"`
	StrategiesUsed  []string  `json:"strategies_used,omitempty"`
	StartedAt       time.Time `json:"started_at"`
}

// AddError records a non-fatal error on the result.
func (r *ScanResult) AddError(err error) {
	if err == nil {
		return
	}
	r.Errors = append(r.Errors, err.Error())
}

// FailedScanResult converts an account-level failure into a result so a
// batch can report it without aborting other accounts.
func FailedScanResult(accountID string, err error) ScanResult {
	r := ScanResult{AccountID: accountID, StartedAt: time.Now().UTC()}
	r.AddError(err)
	return r
}

// CandidateSource tells where a PDF candidate came from.
type CandidateSource string

const (
	SourceAttachment CandidateSource = "attachment"
	SourceBodyLink   CandidateSource = "body_link"
)

// PdfCandidate is a discovered PDF payload pending handoff to document
// processing. It lives only for the duration of the handoff.
type PdfCandidate struct {
	Source    CandidateSource `json:"source"`
	Name      string          `json:"name"`
	Data      []byte          `json:"-"`
	Size      int64           `json:"size"`
	OriginURL string          `json:"origin_url,omitempty"`
}

// ScanRequest is the inbound trigger for a scan. An empty AccountID
// means all enabled accounts. Zero values fall back to configuration.
type ScanRequest struct {
	AccountID   string `json:"account_id,omitempty"`
	MaxMessages int    `json:"max_messages,omitempty"`
	DaysBack    int    `json:"days_back,omitempty"`
	ScanType    string `json:"scan_type,omitempty"` // "incremental" (default) or "full"
}

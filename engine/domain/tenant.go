// Package domain defines the core data model shared across the memory
// router, enrichment pipeline, retrieval engine, and retry subsystem. It
// acts as the validation gate at every write and query entry point.
package domain

import "net/http"

// AnonymousUser is the default userId when none is supplied, per spec policy:
// rows written under it are ordinary rows, not quarantined.
const AnonymousUser = "anonymous"

// Tenant is the (companyId, appId, userId?) triple that scopes every record.
type Tenant struct {
	CompanyID string `json:"companyId"`
	AppID     string `json:"appId"`
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	ThreadID  string `json:"threadId,omitempty"`
}

// Normalize defaults UserID to AnonymousUser.
func (t Tenant) Normalize() Tenant {
	if t.UserID == "" {
		t.UserID = AnonymousUser
	}
	return t
}

// Validate checks the required tenant fields.
func (t Tenant) Validate() error {
	if t.CompanyID == "" {
		return NewValidationError("companyId", t.CompanyID, ErrMissingCompanyID)
	}
	return nil
}

// TenantFromHeaders extracts a Tenant from the header set specified in
// spec.md §6, preferring headers over any body-supplied override. Per the
// §9 Open Question, the header path wins whenever present; a body override
// is only consulted by the caller when the corresponding header is absent.
func TenantFromHeaders(h http.Header) Tenant {
	return Tenant{
		CompanyID: h.Get("X-Company-ID"),
		AppID:     h.Get("X-App-ID"),
		UserID:    h.Get("X-User-ID"),
		SessionID: h.Get("X-Session-ID"),
		ThreadID:  h.Get("X-Thread-ID"),
	}
}

// MergeBodyOverride fills any field left empty by headers with the body's
// value, implementing the header-wins policy from spec.md §9.
func MergeBodyOverride(fromHeaders, fromBody Tenant) Tenant {
	t := fromHeaders
	if t.CompanyID == "" {
		t.CompanyID = fromBody.CompanyID
	}
	if t.AppID == "" {
		t.AppID = fromBody.AppID
	}
	if t.UserID == "" {
		t.UserID = fromBody.UserID
	}
	if t.SessionID == "" {
		t.SessionID = fromBody.SessionID
	}
	if t.ThreadID == "" {
		t.ThreadID = fromBody.ThreadID
	}
	return t
}

// Key returns the tenant-scoping string used in store filters and cache keys.
func (t Tenant) Key() string {
	return t.CompanyID + "/" + t.AppID + "/" + t.UserID
}

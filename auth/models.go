package auth

// Credential is what a request presents to identify its caller.
type Credential struct {
	// Authorization is the raw Authorization header, e.g. "Bearer <jwt>".
	Authorization string
	// ProfileID is the legacy profile_id header value.
	ProfileID string
}

// IssueRequest asks for a caller token for an existing profile.
type IssueRequest struct {
	ProfileID int64 `json:"profile_id"`
}

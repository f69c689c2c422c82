package dto

// AllocateRequest is the POST /jobs body. The job ids arrive as JSON
// numbers or strings.
type AllocateRequest struct {
	Jobs []any `json:"jobs"`
}

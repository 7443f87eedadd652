package validation

// RunRequest is the optional body of POST /run. An empty list means every
// due flow.
type RunRequest struct {
	FlowIDs []string `json:"flowIds" validate:"omitempty,max=500,dive,required"`
}

package api

// RegisterRequest is the body of POST /api/v1/clients/register.
type RegisterRequest struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// DeregisterRequest is the body of POST /api/v1/clients/deregister.
type DeregisterRequest struct {
	Name string `json:"name"`
}

// StatusResponse mirrors the outcome of a deregistration (and of errors on
// the register path): Code repeats the HTTP status for callers that only
// look at bodies.
type StatusResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

package middlewares

const (
	CtxRequestID = "requestID"
	CtxJobID     = "jobID"
)

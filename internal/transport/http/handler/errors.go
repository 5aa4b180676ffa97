package handler

const (
	errInternalServer   = "Internal server error"
	errScheduleNotFound = "Schedule not found"
	errInvalidRule      = "Invalid schedule rule"
)

package utils

import "errors"

var (
	ErrorRecordNotFound = errors.New("record not found")
	ErrLockNotObtained  = errors.New("could not obtain document lock")
)

package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func privilegeDenied(message string) *DomainError {
	return domainError(http.StatusForbidden, "PRIVILEGE_DENIED", message, nil)
}

func persistenceFailure(message string) *DomainError {
	return domainError(http.StatusBadGateway, "PERSISTENCE_FAILURE", message, nil)
}

func malformedTree(message string) *DomainError {
	return domainError(http.StatusInternalServerError, "MALFORMED_TREE", message, nil)
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

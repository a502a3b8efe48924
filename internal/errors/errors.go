package errors

import (
	"errors"
	"fmt"
)

var (
	ErrBackupFailed       = errors.New("backup failed")
	ErrConnectionFailed   = errors.New("database connection failed")
	ErrIOFailed           = errors.New("output write failed")
	ErrToolUnavailable    = errors.New("dump tool unavailable")
	ErrUnsupportedType    = errors.New("unsupported database type")
	ErrPartialChunk       = errors.New("chunked export incomplete")
	ErrCompressionFailed  = errors.New("compression failed")
	ErrInvalidTransition  = errors.New("invalid job status transition")
	ErrNotFound           = errors.New("not found")
	ErrEnqueueFailed      = errors.New("enqueue failed")
	ErrNotificationFailed = errors.New("notification failed")
)

// Is and As mirror the standard library so callers importing this package
// don't need a second errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func New(text string) error { return errors.New(text) }

type BackupError struct {
	DatabaseType string
	DatabaseName string
	Err          error
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("backup failed for %s database '%s': %v", e.DatabaseType, e.DatabaseName, e.Err)
}

func (e *BackupError) Unwrap() error {
	return e.Err
}

func NewBackupError(dbType, dbName string, err error) *BackupError {
	return &BackupError{
		DatabaseType: dbType,
		DatabaseName: dbName,
		Err:          err,
	}
}

// Kind wraps err so that errors.Is(result, kind) holds while keeping the
// original message intact.
func Kind(kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string {
	return e.err.Error()
}

func (e *kindError) Unwrap() []error {
	return []error{e.kind, e.err}
}

type QueueError struct {
	Operation string
	Family    string
	Err       error
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("queue %s failed for family '%s': %v", e.Operation, e.Family, e.Err)
}

func (e *QueueError) Unwrap() error {
	return e.Err
}

func NewQueueError(op, family string, err error) *QueueError {
	return &QueueError{
		Operation: op,
		Family:    family,
		Err:       err,
	}
}

type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for '%s': %s", e.Field, e.Message)
}

func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

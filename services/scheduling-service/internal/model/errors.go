package model

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrSlotTaken         = errors.New("slot taken")
	ErrBusy              = errors.New("busy")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrNotFound          = errors.New("not found")
)

// Coder is implemented by every domain error and gives a stable machine code.
type Coder interface {
	Code() string
}

type ValidationError struct {
	Field   string
	Message string
}

func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Code() string     { return "validation_error" }
func (e *ValidationError) Is(err error) bool { return err == ErrValidation }

type ConflictReason int

const (
	SlotTaken ConflictReason = iota + 1
	Busy
)

type ConflictError struct {
	Reason ConflictReason
	Err    error
}

func (e *ConflictError) Error() string {
	msg := "time slot already booked"
	if e.Reason == Busy {
		msg = "scheduling store busy, retry later"
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *ConflictError) Code() string {
	if e.Reason == Busy {
		return "busy"
	}
	return "slot_taken"
}

func (e *ConflictError) Is(err error) bool {
	switch e.Reason {
	case SlotTaken:
		return err == ErrSlotTaken
	case Busy:
		return err == ErrBusy
	}
	return false
}

func (e *ConflictError) Unwrap() error { return e.Err }

type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move appointment from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Code() string     { return "invalid_transition" }
func (e *InvalidTransitionError) Is(err error) bool { return err == ErrInvalidTransition }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Code() string     { return "not_found" }
func (e *NotFoundError) Is(err error) bool { return err == ErrNotFound }

// CodeOf returns the machine code of a domain error, or "internal".
func CodeOf(err error) string {
	var c Coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return "internal"
}

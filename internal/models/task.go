package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Wire field names of a task document.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldCompleted   = "completed"
	FieldCreatedAt   = "createdAt"
	FieldUpdatedAt   = "updatedAt"
)

// Limits enforced by editing surfaces before a task reaches the repository.
const (
	MaxTitleLength       = 100
	MaxDescriptionLength = 500
)

var ErrInvalidTask = errors.New("invalid task")

// ValidateTitle checks a title the way the editing screens do: required once
// trimmed and at most MaxTitleLength characters.
func ValidateTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return fmt.Errorf("%w: title must be %d characters or less", ErrInvalidTask, MaxTitleLength)
	}
	return nil
}

func ValidateDescription(description string) error {
	if utf8.RuneCountInString(strings.TrimSpace(description)) > MaxDescriptionLength {
		return fmt.Errorf("%w: description must be %d characters or less", ErrInvalidTask, MaxDescriptionLength)
	}
	return nil
}

// Task represents a todo item owned by a single principal
type Task struct {
	ID          string    `firestore:"-" json:"id"`
	Title       string    `firestore:"title" json:"title"`
	Description string    `firestore:"description" json:"description"`
	Completed   bool      `firestore:"completed" json:"completed"`
	CreatedAt   time.Time `firestore:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt" json:"updatedAt"`
}

// TaskUpdate carries the editable fields of a task. Nil fields are left untouched.
type TaskUpdate struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u TaskUpdate) IsEmpty() bool {
	return u.Title == nil && u.Description == nil
}

// Stats summarizes a task list the way the home screen shows it.
type Stats struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	Pending        int `json:"pending"`
	CompletionRate int `json:"completionRate"`
}

// ComputeStats counts completed and pending tasks. CompletionRate is a rounded percentage.
func ComputeStats(tasks []Task) Stats {
	var s Stats
	s.Total = len(tasks)
	for _, t := range tasks {
		if t.Completed {
			s.Completed++
		}
	}
	s.Pending = s.Total - s.Completed
	if s.Total > 0 {
		s.CompletionRate = (s.Completed*100 + s.Total/2) / s.Total
	}
	return s
}

package template

import "errors"

var (
	ErrTemplateNotFound        = errors.New("calculation template not found")
	ErrInvoiceTemplateNotFound = errors.New("invoice template not found")
	ErrDefaultConflict         = errors.New("another default template was set for this scope at the same time")
)

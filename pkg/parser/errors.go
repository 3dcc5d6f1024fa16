package parser

import "errors"

var (
	// ErrInvalidParser is returned when a parser fails registration
	// validation.
	ErrInvalidParser = errors.New("invalid parser")

	// ErrParserNotFound is returned when no parser with the given id is
	// registered.
	ErrParserNotFound = errors.New("parser not found")

	// ErrNoMatch is returned by dispatch when every candidate parser
	// declined or failed on a record.
	ErrNoMatch = errors.New("no parser matched")
)

package errors

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Classifier maps a raw error onto the protocol taxonomy. A nil return
// means "not mine, try the next one".
type Classifier func(err error) *ProtocolError

// Chain tries each classifier in order and falls through to a generic
// internal error so that raw storage or validation errors never reach
// the client.
type Chain struct {
	classifiers []Classifier
}

func NewChain(classifiers ...Classifier) *Chain {
	return &Chain{classifiers: classifiers}
}

// Append registers an additional classifier behind the existing ones.
func (c *Chain) Append(classifier Classifier) {
	c.classifiers = append(c.classifiers, classifier)
}

// Classify resolves err to a ProtocolError. Never returns nil.
func (c *Chain) Classify(err error) *ProtocolError {
	for _, classify := range c.classifiers {
		if perr := classify(err); perr != nil {
			return perr
		}
	}
	return Internal(err)
}

// DefaultChain covers the errors the handlers are expected to leak:
// already-classified protocol errors, validator failures and the
// storage-level conditions gorm reports.
func DefaultChain() *Chain {
	return NewChain(
		ClassifyProtocol,
		ClassifyValidation,
		ClassifyStorage,
	)
}

// ClassifyProtocol passes through errors that were classified at the
// point of failure.
func ClassifyProtocol(err error) *ProtocolError {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr
	}
	return nil
}

// ClassifyValidation maps payload shape violations to BAD_REQUEST.
// Length violations on "name" fields get their own machine codes so
// clients can render a precise message.
func ClassifyValidation(err error) *ProtocolError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	for _, fe := range verrs {
		switch fe.Tag() {
		case "min":
			return BadRequest(CodeNameMin, "Value too short: "+fe.Field(), err)
		case "max":
			return BadRequest(CodeNameMax, "Value too long: "+fe.Field(), err)
		}
	}
	return BadRequest(CodeSchemaMismatch, "Malformed payload", err)
}

// ClassifyStorage maps gorm sentinel errors to the taxonomy.
func ClassifyStorage(err error) *ProtocolError {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return NotFound("Resource not found", err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return BadRequest(CodeDuplicate, "Already exists", err)
	}
	return nil
}

package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestClassifyProtocolPassthrough(t *testing.T) {
	orig := Forbidden("no write access", nil)

	perr := DefaultChain().Classify(fmt.Errorf("handler: %w", orig))

	assert.Same(t, orig, perr)
}

func TestClassifyUnknownFallsThroughToInternal(t *testing.T) {
	perr := DefaultChain().Classify(errors.New("pq: connection refused 10.0.0.3"))

	assert.Equal(t, OutcomeInternal, perr.Outcome)
	assert.Equal(t, "Internal server error", perr.Message)
}

func TestClassifyValidationLengthCodes(t *testing.T) {
	type payload struct {
		Name string `validate:"min=2,max=5"`
	}
	v := validator.New()
	chain := DefaultChain()

	short := chain.Classify(v.Struct(payload{Name: "a"}))
	require.Equal(t, OutcomeBadRequest, short.Outcome)
	assert.Equal(t, CodeNameMin, short.Code)

	long := chain.Classify(v.Struct(payload{Name: "abcdef"}))
	require.Equal(t, OutcomeBadRequest, long.Outcome)
	assert.Equal(t, CodeNameMax, long.Code)
}

func TestClassifyValidationShapeIsSchemaMismatch(t *testing.T) {
	type payload struct {
		Kind string `validate:"oneof=insert delete"`
	}

	perr := DefaultChain().Classify(validator.New().Struct(payload{Kind: "scramble"}))

	require.Equal(t, OutcomeBadRequest, perr.Outcome)
	assert.Equal(t, CodeSchemaMismatch, perr.Code)
}

func TestClassifyStorageSentinels(t *testing.T) {
	chain := DefaultChain()

	missing := chain.Classify(fmt.Errorf("load: %w", gorm.ErrRecordNotFound))
	assert.Equal(t, OutcomeNotFound, missing.Outcome)

	dup := chain.Classify(gorm.ErrDuplicatedKey)
	require.Equal(t, OutcomeBadRequest, dup.Outcome)
	assert.Equal(t, CodeDuplicate, dup.Code)
}

func TestChainAppendRunsAfterDefaults(t *testing.T) {
	sentinel := errors.New("quota exhausted")
	chain := DefaultChain()
	chain.Append(func(err error) *ProtocolError {
		if errors.Is(err, sentinel) {
			return Forbidden("Quota exhausted", err)
		}
		return nil
	})

	assert.Equal(t, OutcomeForbidden, chain.Classify(sentinel).Outcome)
	assert.Equal(t, OutcomeNotFound, chain.Classify(gorm.ErrRecordNotFound).Outcome)
}

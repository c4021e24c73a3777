package history

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sergio/cotizador/internal/types"
)

func TestErrorMessage(t *testing.T) {
	assert.Empty(t, errorMessage(types.Outcome{}))
	assert.Equal(t, "portal timeout",
		errorMessage(types.Outcome{Err: errors.New("portal timeout")}))
}

func TestCloseOnNilIsSafe(t *testing.T) {
	var db *DB
	assert.NotPanics(t, func() { db.Close() })
	assert.NotPanics(t, func() { (&DB{}).Close() })
}

package session

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIsolationLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    IsolationLevel
		wantErr bool
	}{
		{"", ReadCommitted, false},
		{"read committed", ReadCommitted, false},
		{"READ_COMMITTED", ReadCommitted, false},
		{"Repeatable  Read", RepeatableRead, false},
		{"serializable", Serializable, false},
		{"read uncommitted", "", true},
		{"snapshot", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseIsolationLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsolationLevel_SQL(t *testing.T) {
	assert.Equal(t, "REPEATABLE READ", RepeatableRead.SQL())
}

func TestSplitField(t *testing.T) {
	table, col, err := SplitField("public.orders.id")
	require.NoError(t, err)
	assert.Equal(t, "public.orders", table)
	assert.Equal(t, "id", col)

	for _, bad := range []string{"", "orders", ".id", "orders."} {
		_, _, err := SplitField(bad)
		assert.Error(t, err, "field %q", bad)
	}
}

func TestDatabaseError_Retryable(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{CodeSerializationFailure, true},
		{CodeDeadlockDetected, true},
		{CodeUniqueViolation, false},
		{CodeInFailedTransaction, false},
	}

	for _, tt := range tests {
		err := fmt.Errorf("commit: %w", &DatabaseError{Code: tt.code, Message: "x"})
		assert.Equal(t, tt.want, IsRetryable(err), tt.code)
		assert.Equal(t, tt.code, Code(err))
	}

	assert.False(t, IsRetryable(errors.New("plain")))
	assert.Equal(t, "", Code(errors.New("plain")))
}

func TestReadOnlyError(t *testing.T) {
	err := fmt.Errorf("upload: %w", &ReadOnlyError{Op: "upload blob"})
	assert.True(t, IsReadOnly(err))
	assert.Contains(t, err.Error(), "read-only")
}

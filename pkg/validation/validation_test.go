package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateCallID(t *testing.T) {
	assert.NoError(t, ValidateCallID("550e8400-e29b-41d4-a716-446655440000"))
	assert.NoError(t, ValidateCallID("call_1"))

	assert.Error(t, ValidateCallID(""))
	assert.Error(t, ValidateCallID("has spaces"))
	assert.Error(t, ValidateCallID("semi;colon"))
	assert.Error(t, ValidateCallID(strings.Repeat("a", 129)))
}

func TestValidateUserID(t *testing.T) {
	assert.NoError(t, ValidateUserID("student-42"))
	assert.NoError(t, ValidateUserID("admin.desk"))

	assert.Error(t, ValidateUserID(""))
	assert.Error(t, ValidateUserID("not valid"))
}

func TestValidateChatMessage(t *testing.T) {
	assert.NoError(t, ValidateChatMessage("hello"))

	assert.Error(t, ValidateChatMessage(""))
	assert.Error(t, ValidateChatMessage("   "))
	assert.Error(t, ValidateChatMessage(strings.Repeat("x", MaxChatMessageLength+1)))
	assert.Error(t, ValidateChatMessage(string([]byte{0xff, 0xfe})))
}

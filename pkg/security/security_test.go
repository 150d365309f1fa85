package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jdefouw/EvoNash-sub001/pkg/core"
)

func TestValidateID_Valid(t *testing.T) {
	for _, id := range []string{
		"w1",
		"worker-42",
		"gpu_node.eu-west-1",
		"a1B2c3",
	} {
		assert.NoError(t, ValidateID("worker_id", id), id)
	}
}

func TestValidateID_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty":         "",
		"spaces":        "worker 1",
		"leading dash":  "-worker",
		"path traverse": "../etc/passwd",
		"too long":      strings.Repeat("a", MaxIDLength+1),
		"shell meta":    "worker;rm",
	}
	for name, id := range cases {
		err := ValidateID("worker_id", id)
		var verr *core.ValidationError
		assert.ErrorAs(t, err, &verr, name)
		if verr != nil {
			assert.Equal(t, "worker_id", verr.Field)
		}
	}
}

func TestSanitizeReason_StripsControlCharacters(t *testing.T) {
	assert.Equal(t, "cleanmsg", SanitizeReason("clean\x00msg"))
	assert.Equal(t, "line1\nline2", SanitizeReason("line1\nline2"))
	assert.Equal(t, "tab\there", SanitizeReason("tab\there"))
	assert.Equal(t, "", SanitizeReason(""))
	assert.Equal(t, "ab", SanitizeReason("a\x1bb"))
}

func TestSanitizeReason_TruncatesLongMessages(t *testing.T) {
	long := strings.Repeat("x", MaxReleaseReasonLength+100)
	got := SanitizeReason(long)
	assert.Len(t, got, MaxReleaseReasonLength)
	assert.True(t, strings.HasSuffix(got, "..."))
}

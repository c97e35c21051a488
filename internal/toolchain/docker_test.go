package toolchain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeBuildStream(t *testing.T) {
	stream := strings.Join([]string{
		`{"stream":"Step 1/2 : FROM eclipse-temurin:17\n"}`,
		`{"stream":" ---> 1a2b\n"}`,
		`{"aux":{"ID":"sha256:deadbeef"}}`,
		`{"stream":"Successfully tagged app:abc\n"}`,
	}, "\n")

	id, out, err := decodeBuildStream(strings.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, "sha256:deadbeef", id)
	assert.Contains(t, out, "Step 1/2 : FROM eclipse-temurin:17")
	assert.Contains(t, out, "Successfully tagged app:abc")
}

func TestDecodeBuildStreamError(t *testing.T) {
	stream := `{"stream":"Step 1/2 : RUN false\n"}
{"errorDetail":{"code":1,"message":"returned a non-zero code: 1"},"error":"returned a non-zero code: 1"}`

	_, out, err := decodeBuildStream(strings.NewReader(stream))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-zero code")
	assert.Contains(t, out, "RUN false")
}

func TestDecodeBuildStreamWithoutImageID(t *testing.T) {
	_, _, err := decodeBuildStream(strings.NewReader(`{"stream":"nothing\n"}`))
	assert.Error(t, err)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "c\nd", tail("a\nb\nc\nd\n", 2))
	assert.Equal(t, "a", tail("a", 5))
}

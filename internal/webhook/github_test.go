package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yz4230/shipyard/internal/entity"
)

const pushBody = `{
  "ref": "refs/heads/main",
  "after": "9f1c2d3e4b5a69788796a5b4c3d2e1f009182736",
  "deleted": false,
  "repository": {"full_name": "acme/api", "clone_url": "https://github.com/acme/api.git"},
  "pusher": {"name": "alice"},
  "head_commit": {"message": "Fix login\n\nLonger body"}
}`

func TestVerify(t *testing.T) {
	secret := []byte("It's a Secret to Everybody")
	body := []byte("Hello, World!")

	// Example from GitHub's webhook documentation.
	sig := "sha256=757107ea0eb2509fc211221cce984b8a37570b6d7586c22c46f4379c8b043e17"
	assert.Equal(t, sig, Sign(secret, body))
	assert.NoError(t, Verify(secret, sig, body))

	assert.ErrorIs(t, Verify(secret, "", body), ErrMissingSignature)
	assert.ErrorIs(t, Verify(secret, "sha1=757107ea", body), ErrInvalidSignature)
	assert.ErrorIs(t, Verify(secret, "sha256=zz", body), ErrInvalidSignature)
	assert.ErrorIs(t, Verify(secret, sig, []byte("Hello, World?")), ErrInvalidSignature)
	assert.ErrorIs(t, Verify([]byte("other"), sig, body), ErrInvalidSignature)

	assert.NoError(t, Verify(nil, "", body))
}

func TestParsePush(t *testing.T) {
	d, err := Parse("push", []byte(pushBody))
	require.NoError(t, err)

	assert.Equal(t, KindPush, d.Kind)
	assert.Equal(t, "acme/api", d.RepoName)
	require.NotNil(t, d.Pipeline)
	assert.Equal(t, "https://github.com/acme/api.git", d.Pipeline.RepoURL)
	assert.Equal(t, "main", d.Pipeline.Branch)
	assert.Equal(t, "9f1c2d3e4b5a69788796a5b4c3d2e1f009182736", d.Pipeline.CommitHash)
	assert.Equal(t, "Fix login", d.Pipeline.CommitMessage)
	assert.Equal(t, "webhook:github:alice", d.Pipeline.Trigger.String())
}

func TestParseOtherDeliveries(t *testing.T) {
	tests := []struct {
		name  string
		event string
		body  string
		kind  Kind
	}{
		{"ping", "ping", `{"zen":"Keep it logically awesome.","hook_id":42}`, KindPing},
		{"issues", "issues", `{"action":"opened"}`, KindIgnored},
		{"branch deleted", "push", `{"ref":"refs/heads/old","deleted":true,"after":"0000000000000000000000000000000000000000"}`, KindDeletion},
		{"zero after", "push", `{"ref":"refs/heads/old","after":"0000000000000000000000000000000000000000"}`, KindDeletion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Parse(tt.event, []byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, d.Kind)
			assert.Nil(t, d.Pipeline)
		})
	}

	d, err := Parse("ping", []byte(`{"zen":"Keep it logically awesome.","hook_id":42}`))
	require.NoError(t, err)
	assert.Equal(t, "Keep it logically awesome.", d.Zen)
	assert.Equal(t, int64(42), d.HookID)
}

func TestParseRejectsBadPayloads(t *testing.T) {
	_, err := Parse("push", []byte(`{"ref":"refs/heads/main","after":"abc","repository":{}}`))
	assert.ErrorIs(t, err, entity.ErrInvalid)

	_, err = Parse("push", []byte(`{not json`))
	assert.ErrorIs(t, err, entity.ErrInvalid)
}

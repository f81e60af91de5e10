package email

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDomainFromEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"jobs@Greenhouse.IO", "greenhouse.io"},
		{"a@b@lever.co", "lever.co"},
		{"no-at-sign", ""},
		{"trailing@", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GetDomainFromEmail(tt.in), tt.in)
	}
}

func TestResolveIMAPServer_KnownProvider(t *testing.T) {
	server, err := ResolveIMAPServer(context.Background(), "someone@gmail.com")
	require.NoError(t, err)
	assert.Equal(t, "imap.gmail.com:993", server)

	_, err = ResolveIMAPServer(context.Background(), "broken")
	assert.Error(t, err)
}

func TestSplitRawHeaders(t *testing.T) {
	raw := []byte("Subject: hi\r\nFrom: a@b\r\n\r\nbody\r\n")
	assert.Equal(t, "Subject: hi\r\nFrom: a@b", splitRawHeaders(raw))
	assert.Equal(t, "Subject: x", splitRawHeaders([]byte("Subject: x\n\nbody")))
}

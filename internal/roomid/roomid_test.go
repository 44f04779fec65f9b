package roomid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/id"
)

func TestIsValidRoomID(t *testing.T) {
	cases := map[string]bool{
		"!abc:example.org":       true,
		"!a.b_c=d-e:example.org": true,
		"!abc:example.org:8448":  true,
		"!abc:localhost":         true,
		"abc:example.org":        false,
		"#abc:example.org":       false,
		"!abc":                   false,
		"!:example.org":          false,
		"!ab c:example.org":      false,
		"!abc:-bad.org":          false,
		"!abc:example..org":      false,
		"!abc:example.org:0":     false,
		"!abc:example.org:http":  false,
	}
	for in, want := range cases {
		assert.Equal(t, want, IsValidRoomID(in), in)
	}
}

func TestServerName(t *testing.T) {
	assert.Equal(t, "example.org", ServerName("!abc:example.org"))
	assert.Equal(t, "example.org:8448", ServerName("@bot:example.org:8448"))
	assert.Equal(t, "", ServerName("!abc"))
	assert.Equal(t, "", ServerName(""))
}

func TestAliasCandidate(t *testing.T) {
	cases := []struct {
		raw  string
		want id.RoomAlias
	}{
		{"myroom", "#myroom:example.org"},
		{"myroom:other.org", "#myroom:other.org"},
		{"#myroom:other.org", "#myroom:other.org"},
	}
	for _, tc := range cases {
		got, err := AliasCandidate(tc.raw, "example.org")
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got)
	}

	for _, raw := range []string{"", "bad room", "a:b:c:d", "#nodomain"} {
		_, err := AliasCandidate(raw, "example.org")
		assert.ErrorIs(t, err, ErrInvalid, raw)
	}
}

func TestDomainMatches(t *testing.T) {
	assert.True(t, DomainMatches("friend.org", "friend.org"))
	assert.True(t, DomainMatches("matrix.friend.org", "friend.org"))
	assert.False(t, DomainMatches("evilfriend.org", "friend.org"))
	assert.False(t, DomainMatches("friend.org", ""))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "general-chat", Slugify("General Chat"))
	assert.Equal(t, "off-topic-", Slugify("Off-Topic!!"))
	assert.Equal(t, "r2-d2", Slugify("R2 -- D2"))
}

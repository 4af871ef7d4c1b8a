package dimension

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{name: "valid", in: "dimension-1", want: "dimension-1", ok: true},
		{name: "lowercased", in: "Host.Name", want: "host.name", ok: true},
		{name: "colon allowed", in: "k8s:pod", want: "k8s:pod", ok: true},
		{name: "leading underscore", in: "_key", want: "_key", ok: true},
		{name: "leading digits replaced", in: "123key", want: "_key", ok: true},
		{name: "leading number in later section", in: "a.0b", want: "a.0b", ok: true},
		{name: "invalid run collapses", in: "a~#b", want: "a_b", ok: true},
		{name: "multibyte collapses", in: "aäb", want: "a_b", ok: true},
		{name: "empty sections dropped", in: "a..b.", want: "a.b", ok: true},
		{name: "leading dot dropped", in: ".a", want: "a", ok: true},
		{name: "empty", in: "", ok: false},
		{name: "only dots", in: "...", ok: false},
		{name: "only digits", in: "000", ok: false},
		{name: "only invalid", in: "~~~", ok: false},
		{name: "only separators", in: "_.-", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeKey(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeKey_Truncates(t *testing.T) {
	got, ok := NormalizeKey(strings.Repeat("a", 150))
	require.True(t, ok)
	assert.Len(t, got, MaxKeyLength)
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "value-1", want: "value-1"},
		{name: "equals", in: "a=b", want: `a\=b`},
		{name: "comma", in: "a,b", want: `a\,b`},
		{name: "space", in: "a b", want: `a\ b`},
		{name: "backslash", in: `a\b`, want: `a\\b`},
		{name: "quote", in: `a"b`, want: `a\"b`},
		{name: "control chars replaced", in: "a\nb\tc", want: "a_b_c"},
		{name: "control run collapses", in: "a\r\nb", want: "a_b"},
		{name: "unicode kept", in: "grüße", want: "grüße"},
		{name: "empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeValue(tt.in))
		})
	}
}

func TestNormalizeValue_TruncateKeepsEscapes(t *testing.T) {
	raw := strings.Repeat("a", MaxValueLength-1) + "="

	got := NormalizeValue(raw)
	assert.Len(t, got, MaxValueLength-1)
	assert.False(t, strings.HasSuffix(got, `\`))
}

func TestNormalizeValue_TruncatesLongInput(t *testing.T) {
	got := NormalizeValue(strings.Repeat("é", MaxValueLength))
	assert.LessOrEqual(t, len(got), MaxValueLength)
	assert.True(t, utf8.ValidString(got))
}

func TestNormalizeValue_EscapesRecoverOriginal(t *testing.T) {
	for _, raw := range []string{`a=b,c d\e`, `\\`, `==,,`, `x y z`} {
		assert.Equal(t, raw, unescape(NormalizeValue(raw)))
	}
}

func TestNewList_LastValueFirstPosition(t *testing.T) {
	l := NewList(
		Dimension{Key: "a", Value: "1"},
		Dimension{Key: "b", Value: "2"},
		Dimension{Key: "a", Value: "3"},
	)

	assert.Equal(t, []Dimension{
		{Key: "a", Value: "3"},
		{Key: "b", Value: "2"},
	}, l.Dimensions())
}

func TestNormalize_CountsRejected(t *testing.T) {
	l, rejected := Normalize(
		Dimension{Key: "Good", Value: "x y"},
		Dimension{Key: "...", Value: "bad"},
	)

	assert.Equal(t, 1, rejected)
	v, ok := l.Get("good")
	require.True(t, ok)
	assert.Equal(t, `x\ y`, v)
}

func TestMerge_Precedence(t *testing.T) {
	defaults := NewList(
		Dimension{Key: "env", Value: "default"},
		Dimension{Key: "team", Value: "core"},
	)
	attrs := NewList(
		Dimension{Key: "env", Value: "attr"},
		Dimension{Key: "dt.entity.host", Value: "attr"},
	)
	metadata := NewList(
		Dimension{Key: "dt.entity.host", Value: "HOST-1"},
	)

	merged := Merge(defaults, attrs, metadata)

	assert.Equal(t, []Dimension{
		{Key: "env", Value: "attr"},
		{Key: "team", Value: "core"},
		{Key: "dt.entity.host", Value: "HOST-1"},
	}, merged.Dimensions())
}

func TestMerge_MetadataWinsRegardlessOfOrder(t *testing.T) {
	metadata := NewList(Dimension{Key: "k", Value: "meta"})

	for _, first := range []List{
		NewList(Dimension{Key: "k", Value: "default"}),
		NewList(Dimension{Key: "other", Value: "x"}, Dimension{Key: "k", Value: "default"}),
	} {
		attrs := NewList(Dimension{Key: "k", Value: "attr"}, Dimension{Key: "z", Value: "1"})

		v, ok := Merge(first, attrs, metadata).Get("k")
		require.True(t, ok)
		assert.Equal(t, "meta", v)
	}
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	defaults := NewList(Dimension{Key: "k", Value: "default"})
	attrs := NewList(Dimension{Key: "k", Value: "attr"})

	_ = Merge(defaults, attrs)

	v, _ := defaults.Get("k")
	assert.Equal(t, "default", v)
}

func TestMerge_Empty(t *testing.T) {
	assert.Equal(t, 0, Merge().Len())
	assert.Equal(t, 0, Merge(List{}, List{}).Len())
}

func TestFromAttributes(t *testing.T) {
	l, discarded := FromAttributes([]Attribute{
		String("dimension-1", "value-1"),
		{Key: "count", Value: IntValue(3)},
		{Key: "ratio", Value: FloatValue(0.5)},
		{Key: "enabled", Value: BoolValue(true)},
		String("~~", "ignored"),
	})

	assert.Equal(t, 3, discarded.NonString)
	assert.Equal(t, 1, discarded.InvalidKey)
	assert.Equal(t, 4, discarded.Total())
	assert.Equal(t, []Dimension{{Key: "dimension-1", Value: "value-1"}}, l.Dimensions())
}

func TestAttributeValue_AsString(t *testing.T) {
	s, ok := StringValue("x").AsString()
	assert.True(t, ok)
	assert.Equal(t, "x", s)

	_, ok = IntValue(1).AsString()
	assert.False(t, ok)
	assert.Equal(t, "int", IntValue(1).Kind().String())
}

func unescape(s string) string {
	var sb strings.Builder

	escaped := false

	for i := 0; i < len(s); i++ {
		if !escaped && s[i] == '\\' {
			escaped = true

			continue
		}

		sb.WriteByte(s[i])

		escaped = false
	}

	return sb.String()
}

package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"string", `"hello"`, `"hello"`},
		{"int", `42`, `42`},
		{"negative", `-100`, `-100`},
		{"zero", `-0`, `0`},
		{"float", `1.50`, `1.5`},
		{"exponent integral", `1e3`, `1000`},
		{"large", `1e21`, `1e+21`},
		{"small", `0.0000001`, `1e-7`},
		{"fixed small", `0.000001`, `0.000001`},
		{"bools and null", `[true,false,null]`, `[true,false,null]`},
		{"whitespace", ` { "a" : [ 1 , 2 ] } `, `{"a":[1,2]}`},
		{"sorted keys", `{"zebra":1,"alpha":2,"beta":3}`, `{"alpha":2,"beta":3,"zebra":1}`},
		{"nested sorted", `{"z":{"b":1,"a":2},"a":3}`, `{"a":3,"z":{"a":2,"b":1}}`},
		{"duplicate keys last wins", `{"a":1,"a":2}`, `{"a":2}`},
		{"no html escaping", `"<b>&</b>"`, `"<b>&</b>"`},
		{"control escapes", `"a\u0001\n\t"`, `"a\u0001\n\t"`},
		{"line separator literal", "\"a\u2028b\"", "\"a\u2028b\""},
		{"escaped backslash kept", `"\\u2028"`, `"\\u2028"`},
		{"unicode escapes decoded", `"caf\u00e9"`, "\"caf\u00e9\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshal_NFC(t *testing.T) {
	composed, err := Marshal([]byte("{\"caf\u00e9\":\"na\u00efve\"}"))
	require.NoError(t, err)
	decomposed, err := Marshal([]byte("{\"cafe\u0301\":\"nai\u0308ve\"}"))
	require.NoError(t, err)
	assert.Equal(t, string(composed), string(decomposed))
}

func TestMarshal_UTF16KeyOrder(t *testing.T) {
	// U+1F600 encodes as surrogates 0xD83D 0xDE00, which sort before U+FB01
	// in UTF-16 although its UTF-8 bytes sort after.
	in := "{\"\uFB01\":1,\"\U0001F600\":2}"
	got, err := Marshal([]byte(in))
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\uFB01\":1}", string(got))
}

func TestMarshal_Invalid(t *testing.T) {
	for _, in := range []string{``, `{`, `{"a":}`, `[1,]`, `nope`} {
		_, err := Marshal([]byte(in))
		assert.ErrorIs(t, err, ErrInvalidJSON, "input %q", in)
	}
}

func TestSubmissionID_StableAcrossEncodings(t *testing.T) {
	a, err := SubmissionID("contact", []byte(`{"name":"John","email":"j@x.com"}`))
	require.NoError(t, err)
	b, err := SubmissionID("contact", []byte("{ \"email\" : \"j@x.com\",\n \"name\": \"John\" }"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestSubmissionID_DependsOnFormAndContent(t *testing.T) {
	base, err := SubmissionID("contact", []byte(`{"name":"John"}`))
	require.NoError(t, err)
	otherForm, err := SubmissionID("signup", []byte(`{"name":"John"}`))
	require.NoError(t, err)
	otherData, err := SubmissionID("contact", []byte(`{"name":"Jane"}`))
	require.NoError(t, err)

	assert.NotEqual(t, base, otherForm)
	assert.NotEqual(t, base, otherData)
}

func TestHash_DomainSeparation(t *testing.T) {
	data := []byte(`{"a":1}`)
	assert.NotEqual(t, Hash("x/v1", data), Hash("y/v1", data))
	assert.Equal(t, Hash("x/v1", data), Hash("x/v1", data))
	// The separator keeps domain and data from sliding into each other.
	assert.NotEqual(t, Hash("ab", []byte("c")), Hash("a", []byte("bc")))
}

package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFilter_RequiresBothFields(t *testing.T) {
	cases := []struct {
		name  string
		owner string
		doc   string
	}{
		{"missing owner", "", "bio.pdf"},
		{"missing document", "u1", ""},
		{"whitespace owner", "   ", "bio.pdf"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewFilter(tc.owner, tc.doc)
			assert.ErrorIs(t, err, ErrFilterIncomplete)
		})
	}
}

func TestFilter_ZeroValueRefusesExpr(t *testing.T) {
	var f Filter
	_, err := f.Expr()
	assert.ErrorIs(t, err, ErrFilterIncomplete)
	assert.False(t, f.Matches("", ""))
}

func TestFilter_ExprEscapesQuotes(t *testing.T) {
	f, err := NewFilter("u1", `my "notes".pdf`)
	require.NoError(t, err)

	expr, err := f.Expr()
	require.NoError(t, err)
	assert.Equal(t, `owner_id == "u1" && document_id == "my \"notes\".pdf"`, expr)
}

func TestFilter_Matches(t *testing.T) {
	f, err := NewFilter("u1", "bio.pdf")
	require.NoError(t, err)

	assert.True(t, f.Matches("u1", "bio.pdf"))
	assert.False(t, f.Matches("u2", "bio.pdf"))
	assert.False(t, f.Matches("u1", "chem.pdf"))
}

func TestRecordID(t *testing.T) {
	assert.Equal(t, "u1:bio.pdf:2", RecordID("u1", "bio.pdf", 2))
}

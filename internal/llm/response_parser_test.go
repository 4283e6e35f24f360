package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanSQLResponse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "bare SQL",
			input:    "SELECT datetime(timestamp, 'unixepoch') AS datetime, role FROM conversations LIMIT 10",
			expected: "SELECT datetime(timestamp, 'unixepoch') AS datetime, role FROM conversations LIMIT 10",
		},
		{
			name:     "sql fence",
			input:    "```sql\nSELECT role FROM conversations LIMIT 5\n```",
			expected: "SELECT role FROM conversations LIMIT 5",
		},
		{
			name:     "plain fence",
			input:    "```\nSELECT role FROM conversations LIMIT 5\n```",
			expected: "SELECT role FROM conversations LIMIT 5",
		},
		{
			name:     "surrounding whitespace",
			input:    "\n  SELECT role FROM conversations LIMIT 5  \n",
			expected: "SELECT role FROM conversations LIMIT 5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanSQLResponse(tt.input))
		})
	}
}

func TestParseFactList(t *testing.T) {
	response := `1. John works as a software engineer at Acme Corp
2) John enjoys hiking on weekends
- prefers morning meetings

# heading noise
Important information:
`
	facts := ParseFactList(response)
	assert.Equal(t, []string{
		"John works as a software engineer at Acme Corp",
		"John enjoys hiking on weekends",
		"prefers morning meetings",
	}, facts)
}

func TestParseFactList_EmptyResponse(t *testing.T) {
	assert.Empty(t, ParseFactList(""))
	assert.Empty(t, ParseFactList("\n\n  \n"))
}

func TestParseFactList_UnnumberedLines(t *testing.T) {
	facts := ParseFactList("the launch is on May 10th\n")
	assert.Equal(t, []string{"the launch is on May 10th"}, facts)
}

func TestCleanSearchQuery(t *testing.T) {
	assert.Equal(t, "launch date project timeline",
		CleanSearchQuery("  launch date\nproject timeline  "))
	assert.Equal(t, "launch date",
		CleanSearchQuery("launch date\n\nThese keywords cover the request."))
	assert.Equal(t, "", CleanSearchQuery("   "))
}

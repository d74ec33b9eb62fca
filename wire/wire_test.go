package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityRank(t *testing.T) {
	assert.True(t, SeverityCritical.Rank() > SeverityHigh.Rank())
	assert.True(t, SeverityHigh.Rank() > SeverityMedium.Rank())
	assert.True(t, SeverityMedium.Rank() > SeverityLow.Rank())
	assert.Equal(t, -1, Severity("bogus").Rank())
}

func TestFindingDedupKey(t *testing.T) {
	a := Finding{Title: "Hardcoded password", File: "a.go", Line: 10}
	b := Finding{Title: "Hardcoded password", File: "a.go", Line: 10}
	c := Finding{Title: "Hardcoded password", File: "a.go", Line: 11}
	assert.Equal(t, a.DedupKey(), b.DedupKey())
	assert.NotEqual(t, a.DedupKey(), c.DedupKey())
}

func TestFindingValidate(t *testing.T) {
	require.NoError(t, Finding{Severity: SeverityHigh, Title: "x"}.Validate())
	assert.Error(t, Finding{Severity: SeverityHigh}.Validate())
	assert.Error(t, Finding{Severity: "bogus", Title: "x"}.Validate())
	assert.Error(t, Finding{Severity: SeverityHigh, Title: "x", Line: -1}.Validate())
}

func TestValidateMajorMinor(t *testing.T) {
	assert.NoError(t, ValidateMajorMinor("1.0"))
	assert.NoError(t, ValidateMajorMinor("2.13"))
	assert.Error(t, ValidateMajorMinor("1"))
	assert.Error(t, ValidateMajorMinor("1.0.0"))
	assert.Error(t, ValidateMajorMinor("v1.0"))
}

func TestMajorVersion(t *testing.T) {
	assert.Equal(t, "2", MajorVersion("2.13"))
}

func validSkill(id string) Skill {
	return Skill{
		ID:           id,
		Version:      "1.0",
		InputSchema:  json.RawMessage(`{"type":"object","required":["diff","mcp_url"]}`),
		OutputSchema: json.RawMessage(`{"type":"object","required":["findings"]}`),
	}
}

func TestValidateSkill(t *testing.T) {
	require.NoError(t, ValidateSkill(validSkill("review.security")))

	missingInput := validSkill("review.security")
	missingInput.InputSchema = json.RawMessage(`{"type":"object","required":["diff"]}`)
	assert.Error(t, ValidateSkill(missingInput))

	missingOutput := validSkill("review.security")
	missingOutput.OutputSchema = json.RawMessage(`{"type":"object","required":[]}`)
	assert.Error(t, ValidateSkill(missingOutput))
}

func TestValidateAgentCard(t *testing.T) {
	card := AgentCard{
		Name:            "security-agent",
		Version:         "1.0.0",
		ProtocolVersion: "1.0",
		Endpoint:        "http://127.0.0.1:9001/rpc",
		Skills:          []Skill{validSkill("review.security")},
		Auth:            AgentAuth{Type: AuthNone},
	}
	require.NoError(t, ValidateAgentCard(card, "127.0.0.1:9001"))
	assert.Error(t, ValidateAgentCard(card, "127.0.0.1:9999"))

	noSkills := card
	noSkills.Skills = nil
	assert.Error(t, ValidateAgentCard(noSkills, ""))

	badProto := card
	badProto.ProtocolVersion = "2"
	assert.Error(t, ValidateAgentCard(badProto, ""))
}

func TestAgentResponseRoundTrip(t *testing.T) {
	review := AgentResponse{Findings: []Finding{{Severity: SeverityHigh, Title: "t", Evidence: "e", Recommendation: "r"}}}
	data, err := json.Marshal(review)
	require.NoError(t, err)

	var decoded AgentResponse
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.False(t, decoded.NeedMoreInfo)
	require.Len(t, decoded.Findings, 1)
	assert.Equal(t, "t", decoded.Findings[0].Title)

	negotiation := AgentResponse{
		NeedMoreInfo:  true,
		RequestType:   RequestType("lint_results"),
		RequestParams: RequestParams{Tool: "lint"},
	}
	data, err = json.Marshal(negotiation)
	require.NoError(t, err)

	var decodedNeg AgentResponse
	require.NoError(t, json.Unmarshal(data, &decodedNeg))
	assert.True(t, decodedNeg.NeedMoreInfo)
	assert.Equal(t, "lint", decodedNeg.RequestParams.Tool)
	assert.Empty(t, decodedNeg.Findings)
}

func TestValidateInvokeParams(t *testing.T) {
	sk := validSkill("review.security")
	raw := json.RawMessage(`{"skill":"review.security","input":{"diff":"+x","mcp_url":"http://127.0.0.1:9100"}}`)
	params, err := ValidateInvokeParams(raw, sk)
	require.NoError(t, err)
	assert.Equal(t, "review.security", params.Skill)
	assert.Equal(t, "+x", params.Input.Diff)

	bad := json.RawMessage(`{"skill":"review.security","input":{"diff":12345}}`)
	_, err = ValidateInvokeParams(bad, sk)
	require.Error(t, err)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, ErrInvalidParams, rpcErr.Code)
}

func TestValidateToolDefinition(t *testing.T) {
	def := ToolDefinition{
		Name:         "lint",
		InputSchema:  json.RawMessage(`{"type":"object"}`),
		OutputSchema: json.RawMessage(`{"type":"object","required":["ok","stdout","stderr"]}`),
	}
	require.NoError(t, ValidateToolDefinition(def))

	bad := def
	bad.OutputSchema = json.RawMessage(`{"type":"object","required":["ok"]}`)
	assert.Error(t, ValidateToolDefinition(bad))
}

package agent

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/harun/memeagent/pkg/session"
	"github.com/harun/memeagent/pkg/toolexecutor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transcript() []AgentMessage {
	return []AgentMessage{
		{Role: session.RoleUser, Content: "two memes please"},
		{Role: session.RoleAssistant, Content: "On it", ToolCalls: []ToolCall{
			{ID: "call_a", Name: "Imgflip_CreateMeme", Parameters: map[string]interface{}{"template_id": "1"}},
			{ID: "call_b", Name: "Imgflip_CreateMeme"},
		}},
		{Role: session.RoleTool, ToolCallID: "call_a", Content: "https://i.imgflip.com/a.jpg"},
		{Role: session.RoleTool, ToolCallID: "call_b", Content: "denied"},
		{Role: session.RoleAssistant, Content: "Made one"},
	}
}

func TestProviderFactory_NewProvider(t *testing.T) {
	f := &ProviderFactory{}

	p, err := f.NewProvider(ProviderConfig{Provider: "openai", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Provider())

	p, err = f.NewProvider(ProviderConfig{Provider: "anthropic", APIKey: "sk-ant-test"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Provider())

	_, err = f.NewProvider(ProviderConfig{Provider: "gemini"})
	assert.Error(t, err)
}

func TestAnthropicMessages_GroupsToolResults(t *testing.T) {
	msgs := anthropicMessages(transcript())

	require.Len(t, msgs, 4)
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[0].Role)

	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[1].Role)
	require.Len(t, msgs[1].Content, 3)
	assert.NotNil(t, msgs[1].Content[0].OfText)
	assert.NotNil(t, msgs[1].Content[1].OfToolUse)

	// Both results land in one user message.
	assert.Equal(t, anthropic.MessageParamRoleUser, msgs[2].Role)
	require.Len(t, msgs[2].Content, 2)
	require.NotNil(t, msgs[2].Content[0].OfToolResult)
	assert.Equal(t, "call_a", msgs[2].Content[0].OfToolResult.ToolUseID)
	assert.Equal(t, "call_b", msgs[2].Content[1].OfToolResult.ToolUseID)

	assert.Equal(t, anthropic.MessageParamRoleAssistant, msgs[3].Role)
}

func TestAnthropicMessages_TrailingToolResults(t *testing.T) {
	msgs := anthropicMessages(transcript()[:4])
	require.Len(t, msgs, 3)
	assert.Len(t, msgs[2].Content, 2)
}

func TestOpenAIMessages(t *testing.T) {
	msgs, err := openAIMessages(LLMRequest{SystemPrompt: "be funny", Messages: transcript()})
	require.NoError(t, err)

	require.Len(t, msgs, 6)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	assert.Len(t, msgs[2].OfAssistant.ToolCalls, 2)
	require.NotNil(t, msgs[3].OfTool)
	assert.Equal(t, "call_a", msgs[3].OfTool.ToolCallID)
	assert.NotNil(t, msgs[5].OfAssistant)
}

func TestParseArguments(t *testing.T) {
	args, err := parseArguments("")
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = parseArguments(`{"template_id":"181913649","top_text":"hi"}`)
	require.NoError(t, err)
	assert.Equal(t, "181913649", args["template_id"])

	_, err = parseArguments("{not json")
	assert.Error(t, err)
}

func TestRequiredFields(t *testing.T) {
	assert.Equal(t, []string{"a"}, requiredFields(map[string]interface{}{"required": []string{"a"}}))
	assert.Equal(t, []string{"a", "b"}, requiredFields(map[string]interface{}{"required": []interface{}{"a", "b"}}))
	assert.Nil(t, requiredFields(map[string]interface{}{}))
}

func TestToolSpecs(t *testing.T) {
	specs := ToolSpecs([]toolexecutor.ToolDefinition{
		{Name: "Imgflip_GetPopularMemes", Description: "Popular templates"},
		{Name: "Imgflip_SearchMemes", InputSchema: map[string]interface{}{"type": "object", "required": []string{"query"}}},
	})

	require.Len(t, specs, 2)
	assert.Equal(t, "Imgflip_GetPopularMemes", specs[0].Name)
	assert.Equal(t, "object", specs[0].InputSchema["type"])
	assert.Equal(t, []string{"query"}, specs[1].InputSchema["required"])
}

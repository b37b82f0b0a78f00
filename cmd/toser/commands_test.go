package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toser-api/internal/assessment"
)

func runCLI(t *testing.T, stdin string, args ...string) (recoverOutput, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(zerolog.Nop())
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()
	var decoded recoverOutput
	if out.Len() > 0 {
		require.NoError(t, json.Unmarshal(out.Bytes(), &decoded), out.String())
	}
	return decoded, err
}

func TestRecoverFromStdin(t *testing.T) {
	out, err := runCLI(t, "```json\n{'summary': 'fenced', 'green_flags': ['a']}\n```", "recover")
	require.NoError(t, err)
	require.Equal(t, assessment.TierRepair, out.Tier)
	require.Equal(t, "fenced", out.Assessment.Summary)
	require.Equal(t, []string{"a"}, out.Assessment.PositiveFlags)
}

func TestRecoverFromFileWithLegacySchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reply.txt")
	reply := `{"categories": [{"name": "Privacy and Data Security", "score": 2}], "overall_score": 2}`
	require.NoError(t, os.WriteFile(path, []byte(reply), 0o600))

	out, err := runCLI(t, "", "recover", "--schema", "legacy", path)
	require.NoError(t, err)
	require.Equal(t, assessment.TierStrict, out.Tier)
	require.Equal(t, 10.0, out.Assessment.FinalScore)
	require.Equal(t, "A+", out.Assessment.LetterGrade)
}

func TestRecoverReportsFailure(t *testing.T) {
	out, err := runCLI(t, "   ", "recover")
	require.Error(t, err)
	require.NotNil(t, out.Failure)
	require.Equal(t, assessment.ParseFailure, out.Failure.Kind)
	require.Nil(t, out.Assessment)
}

func TestRecoverRejectsUnknownSchema(t *testing.T) {
	_, err := runCLI(t, "{}", "recover", "--schema", "future")
	require.ErrorIs(t, err, assessment.ErrInvalidSchema)
}

func TestAnalyzeRequiresURL(t *testing.T) {
	_, err := runCLI(t, "", "analyze")
	require.Error(t, err)
}

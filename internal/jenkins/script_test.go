package jenkins

import (
	"encoding/base64"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/jcx/internal/models"
)

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestParseOutput_AttributesByIndex(t *testing.T) {
	output := strings.Join([]string{
		"some banner printed by an init script",
		"JCX|2|OK|" + b64("third"),
		"JCX|0|OK|" + b64("first"),
		"JCX|1|NULL|",
		"",
		"Result: null",
	}, "\n")

	entries := ParseOutput(output, 3)
	require.Len(t, entries, 3)

	assert.True(t, entries[0].OK())
	assert.Equal(t, "first", entries[0].Plaintext)

	assert.False(t, entries[1].OK())
	assert.Equal(t, models.KindMalformedCiphertext, entries[1].Err.Kind)

	assert.True(t, entries[2].OK())
	assert.Equal(t, "third", entries[2].Plaintext)
}

func TestParseOutput_DelimitersInsidePlaintext(t *testing.T) {
	secret := "pa|ss'wo\"rd\nwith JCX|0|OK| inside"
	entries := ParseOutput("JCX|0|OK|"+b64(secret), 1)

	require.True(t, entries[0].OK())
	assert.Equal(t, secret, entries[0].Plaintext)
}

func TestParseOutput_MissingAndDuplicateLines(t *testing.T) {
	output := strings.Join([]string{
		"JCX|0|OK|" + b64("a"),
		"JCX|2|OK|" + b64("c"),
		"JCX|2|OK|" + b64("c"),
		"JCX|3|ERR|" + b64("java.lang.IllegalArgumentException: bad"),
	}, "\n")

	entries := ParseOutput(output, 4)

	assert.True(t, entries[0].OK())
	assert.Equal(t, models.KindBatchParse, entries[1].Err.Kind, "missing line")
	assert.Equal(t, models.KindBatchParse, entries[2].Err.Kind, "duplicate line")
	assert.Equal(t, models.KindScriptExecutionFailed, entries[3].Err.Kind)
	assert.Contains(t, entries[3].Err.Message, "IllegalArgumentException")
}

func TestParseOutput_IgnoresMalformedLines(t *testing.T) {
	output := strings.Join([]string{
		"JCX|x|OK|" + b64("nope"),
		"JCX|9|OK|" + b64("out of range"),
		"JCX|-1|OK|" + b64("negative"),
		"JCX|0",
		"JCX|0|OK|" + b64("ok"),
	}, "\n")

	entries := ParseOutput(output, 1)
	require.True(t, entries[0].OK())
	assert.Equal(t, "ok", entries[0].Plaintext)
}

func TestParseOutput_BadPayloadOnlyAffectsItsIndex(t *testing.T) {
	output := "JCX|0|OK|!!notbase64!!\nJCX|1|OK|" + b64("fine") + "\nJCX|2|WAT|"

	entries := ParseOutput(output, 3)
	assert.Equal(t, models.KindBatchParse, entries[0].Err.Kind)
	assert.True(t, entries[1].OK())
	assert.Equal(t, models.KindBatchParse, entries[2].Err.Kind)
}

func TestParseOutput_EmptyErrorMessage(t *testing.T) {
	entries := ParseOutput("JCX|0|ERR|"+b64("null"), 1)
	assert.Equal(t, models.KindScriptExecutionFailed, entries[0].Err.Kind)
	assert.Equal(t, "decrypt raised an exception", entries[0].Err.Message)
}

func TestBatchScript_EmbedsEncodedInputsInOrder(t *testing.T) {
	inputs := []string{"{AQAAABAAAAAQ}", "{it's|odd}", "{third}"}
	script := BatchScript(inputs)

	assert.True(t, strings.HasPrefix(script, batchScriptHeader))
	assert.True(t, strings.HasSuffix(script, batchScriptFooter))

	last := -1
	for _, in := range inputs {
		idx := strings.Index(script, "'"+b64(in)+"'")
		require.NotEqual(t, -1, idx, "input %q not embedded", in)
		assert.Greater(t, idx, last)
		last = idx
	}
	assert.NotContains(t, script, "it's", "raw input must not reach the script")
}

func TestSingleScript_EmbedsEncodedInput(t *testing.T) {
	script := SingleScript("{AQAA'x}")
	assert.Contains(t, script, fmt.Sprintf("'%s'.decodeBase64()", b64("{AQAA'x}")))
	assert.NotContains(t, script, "\n")
}

func TestEntryCost_GrowsWithInput(t *testing.T) {
	short := EntryCost("{AQAA}")
	long := EntryCost("{" + strings.Repeat("A", 400) + "}")

	assert.Greater(t, short, 0)
	assert.Greater(t, long, short)
	assert.Greater(t, ScriptOverhead(), len(batchScriptFooter))
}

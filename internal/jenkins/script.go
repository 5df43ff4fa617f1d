package jenkins

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ternarybob/jcx/internal/models"
)

// Every line the decrypt scripts print has the form
//
//	JCX|<index>|<status>|<base64 payload>
//
// Ciphertexts are embedded base64 encoded and payloads come back base64
// encoded, so neither the delimiter nor Groovy quoting can appear inside a
// field whatever the secret contains.
const (
	lineMarker    = "JCX"
	lineDelimiter = "|"

	statusOK   = "OK"
	statusNull = "NULL"
	statusErr  = "ERR"
)

const batchScriptHeader = "def jcxInput = [\n"

const batchScriptFooter = `]
jcxInput.eachWithIndex { enc, i ->
  try {
    def s = hudson.util.Secret.decrypt(new String(enc.decodeBase64(), 'UTF-8'))
    if (s == null) {
      println('JCX|' + i + '|NULL|')
    } else {
      println('JCX|' + i + '|OK|' + s.getPlainText().getBytes('UTF-8').encodeBase64().toString())
    }
  } catch (Throwable t) {
    println('JCX|' + i + '|ERR|' + String.valueOf(t.getMessage()).getBytes('UTF-8').encodeBase64().toString())
  }
}
`

const singleScriptTemplate = `try { def s = hudson.util.Secret.decrypt(new String('%s'.decodeBase64(), 'UTF-8')); println(s == null ? 'JCX|0|NULL|' : 'JCX|0|OK|' + s.getPlainText().getBytes('UTF-8').encodeBase64().toString()) } catch (Throwable t) { println('JCX|0|ERR|' + String.valueOf(t.getMessage()).getBytes('UTF-8').encodeBase64().toString()) }`

// ScriptEntry is the parsed outcome for one ciphertext of a script
type ScriptEntry struct {
	Index     int
	Plaintext string
	Err       *models.Error
}

// OK reports whether the entry was decrypted
func (e ScriptEntry) OK() bool {
	return e.Err == nil
}

// SingleScript builds the one-line script that decrypts and prints one ciphertext
func SingleScript(ciphertext string) string {
	return fmt.Sprintf(singleScriptTemplate, encodeInput(ciphertext))
}

// BatchScript builds a script that decrypts every ciphertext in one round trip
func BatchScript(ciphertexts []string) string {
	var b strings.Builder
	b.Grow(ScriptOverhead() + len(ciphertexts)*64)
	b.WriteString(batchScriptHeader)
	for _, ct := range ciphertexts {
		b.WriteString(entryLine(ct))
	}
	b.WriteString(batchScriptFooter)
	return b.String()
}

// ScriptOverhead is the encoded request size of a batch script with no entries
func ScriptOverhead() int {
	return len(url.QueryEscape(batchScriptHeader+batchScriptFooter)) + len("script=&Submit=Run&Jenkins-Crumb=") + 128
}

// EntryCost is the encoded request size one ciphertext adds to a batch script
func EntryCost(ciphertext string) int {
	return len(url.QueryEscape(entryLine(ciphertext)))
}

func entryLine(ciphertext string) string {
	return "'" + encodeInput(ciphertext) + "',\n"
}

func encodeInput(ciphertext string) string {
	return base64.StdEncoding.EncodeToString([]byte(ciphertext))
}

// ParseOutput attributes script output back to n inputs by index. The
// returned slice always has n entries; an input without a well-formed line
// gets a KindBatchParse error so only that index is affected.
func ParseOutput(output string, n int) []ScriptEntry {
	entries := make([]ScriptEntry, n)
	seen := make([]int, n)

	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimSpace(raw)
		if !strings.HasPrefix(line, lineMarker+lineDelimiter) {
			continue
		}

		parts := strings.SplitN(line, lineDelimiter, 4)
		if len(parts) != 4 {
			continue
		}

		idx, err := strconv.Atoi(parts[1])
		if err != nil || idx < 0 || idx >= n {
			continue
		}
		seen[idx]++
		entries[idx] = parseEntry(idx, parts[2], parts[3])
	}

	for i := range entries {
		switch seen[i] {
		case 0:
			entries[i] = ScriptEntry{Index: i, Err: models.NewError(models.KindBatchParse, fmt.Sprintf("no output line for input %d", i))}
		case 1:
		default:
			entries[i] = ScriptEntry{Index: i, Err: models.NewError(models.KindBatchParse, fmt.Sprintf("%d output lines for input %d", seen[i], i))}
		}
	}

	return entries
}

func parseEntry(idx int, status, payload string) ScriptEntry {
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return ScriptEntry{Index: idx, Err: models.WrapError(models.KindBatchParse, fmt.Sprintf("undecodable payload for input %d", idx), err)}
	}

	switch status {
	case statusOK:
		return ScriptEntry{Index: idx, Plaintext: string(decoded)}
	case statusNull:
		return ScriptEntry{Index: idx, Err: models.NewError(models.KindMalformedCiphertext, "ciphertext could not be decrypted with the server key")}
	case statusErr:
		msg := string(decoded)
		if msg == "" || msg == "null" {
			msg = "decrypt raised an exception"
		}
		return ScriptEntry{Index: idx, Err: models.NewError(models.KindScriptExecutionFailed, msg)}
	default:
		return ScriptEntry{Index: idx, Err: models.NewError(models.KindBatchParse, fmt.Sprintf("unknown status %q for input %d", status, idx))}
	}
}

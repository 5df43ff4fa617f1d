// Package credentials reads encrypted entries from a Jenkins credentials.xml file.
package credentials

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/ternarybob/jcx/internal/models"
)

// Credential element names and the encrypted field each one carries
const (
	usernamePasswordElement = "com.cloudbees.plugins.credentials.impl.UsernamePasswordCredentialsImpl"
	stringElement           = "org.jenkinsci.plugins.plaincredentials.impl.StringCredentialsImpl"
	sshKeyElement           = "com.cloudbees.jenkins.plugins.sshcredentials.impl.BasicSSHUserPrivateKey"
)

// Kind is the Jenkins credential type an entry came from
type Kind string

const (
	KindUsernamePassword Kind = "username_password"
	KindSecretText       Kind = "secret_text"
	KindSSHKey           Kind = "ssh_key"
)

// Kinds lists every supported credential type
var Kinds = []Kind{KindUsernamePassword, KindSecretText, KindSSHKey}

// ParseKinds converts kind names into kinds
func ParseKinds(names []string) ([]Kind, error) {
	kinds := make([]Kind, 0, len(names))
	for _, name := range names {
		kind := Kind(strings.ToLower(strings.TrimSpace(name)))
		valid := false
		for _, k := range Kinds {
			if kind == k {
				valid = true
				break
			}
		}
		if !valid {
			return nil, fmt.Errorf("unknown credential kind %q", name)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

var xml11Prolog = regexp.MustCompile(`^(\s*<\?xml[^>]*version=['"])1\.1(['"])`)

// Accounts that belong to the Jenkins installation itself rather than to a repository
var (
	systemIDs = map[string]struct{}{
		"jenkins-ssh":          {},
		"jenkins":              {},
		"jenkins-log-archives": {},
		"docker":               {},
		"os-cloud":             {},
		"lftoolsini-nexus":     {},
		"nonrtric-onap-nexus":  {},
	}
	systemUsernames = map[string]struct{}{
		"jenkins": {},
		"logs":    {},
		"docker":  {},
	}
)

// Entry is one credential with an encrypted field
type Entry struct {
	ID          string
	Kind        Kind
	Username    string
	Description string
	Ciphertext  string
}

// System reports whether the entry belongs to the Jenkins installation itself
func (e Entry) System() bool {
	if _, ok := systemIDs[e.ID]; ok {
		return true
	}
	_, ok := systemUsernames[e.Username]
	return ok
}

// Label is the name written next to a decrypted secret
func (e Entry) Label() string {
	if e.Username != "" {
		return e.Username
	}
	return e.ID
}

// Record converts the entry into a decryption input
func (e Entry) Record() models.CredentialRecord {
	return models.CredentialRecord{
		ID:          e.ID,
		Ciphertext:  e.Ciphertext,
		Description: e.Description,
	}
}

// Filter selects entries
type Filter struct {
	// Description keeps entries whose description contains it, case-insensitive
	Description string

	// IncludeSystem keeps entries owned by the Jenkins installation
	IncludeSystem bool

	// Kinds restricts the credential types; empty keeps all
	Kinds []Kind
}

// Match reports whether the entry passes the filter
func (f Filter) Match(e Entry) bool {
	if !f.IncludeSystem && e.System() {
		return false
	}
	if f.Description != "" && !strings.Contains(strings.ToLower(e.Description), strings.ToLower(f.Description)) {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if e.Kind == k {
			return true
		}
	}
	return false
}

type credentialXML struct {
	ID               string `xml:"id"`
	Description      string `xml:"description"`
	Username         string `xml:"username"`
	Password         string `xml:"password"`
	Secret           string `xml:"secret"`
	Passphrase       string `xml:"passphrase"`
	PrivateKeySource struct {
		PrivateKey string `xml:"privateKey"`
	} `xml:"privateKeySource"`
}

// ReadFile parses the credentials file at path
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open credentials file: %w", err)
	}
	defer f.Close()

	entries, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return entries, nil
}

// Read parses a credentials.xml document. Entries without an id or without an
// encrypted value in {...} form are skipped. Document order is preserved.
func Read(r io.Reader) ([]Entry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	// Jenkins writes XML 1.1 prologs, which encoding/xml rejects. The
	// documents use no 1.1-only constructs.
	data = xml11Prolog.ReplaceAll(data, []byte("${1}1.0${2}"))

	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	var entries []Entry
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		kind, ok := kindOf(start.Name.Local)
		if !ok {
			continue
		}

		var c credentialXML
		if err := dec.DecodeElement(&c, &start); err != nil {
			return nil, err
		}

		if entry, ok := toEntry(kind, c); ok {
			entries = append(entries, entry)
		}
	}

	return entries, nil
}

// Select returns the entries that pass the filter
func Select(entries []Entry, filter Filter) []Entry {
	var out []Entry
	for _, e := range entries {
		if filter.Match(e) {
			out = append(out, e)
		}
	}
	return out
}

// Descriptions returns the distinct non-empty descriptions, sorted
func Descriptions(entries []Entry) []string {
	seen := make(map[string]struct{})
	for _, e := range entries {
		if e.Description != "" {
			seen[e.Description] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Records converts entries into decryption inputs
func Records(entries []Entry) []models.CredentialRecord {
	records := make([]models.CredentialRecord, len(entries))
	for i, e := range entries {
		records[i] = e.Record()
	}
	return records
}

func kindOf(element string) (Kind, bool) {
	switch element {
	case usernamePasswordElement:
		return KindUsernamePassword, true
	case stringElement:
		return KindSecretText, true
	case sshKeyElement:
		return KindSSHKey, true
	default:
		return "", false
	}
}

func toEntry(kind Kind, c credentialXML) (Entry, bool) {
	var ciphertext string
	switch kind {
	case KindUsernamePassword:
		ciphertext = c.Password
	case KindSecretText:
		ciphertext = c.Secret
	case KindSSHKey:
		ciphertext = c.PrivateKeySource.PrivateKey
	}

	ciphertext = strings.TrimSpace(ciphertext)
	id := strings.TrimSpace(c.ID)
	if id == "" || !encrypted(ciphertext) {
		return Entry{}, false
	}

	return Entry{
		ID:          id,
		Kind:        kind,
		Username:    strings.TrimSpace(c.Username),
		Description: strings.TrimSpace(c.Description),
		Ciphertext:  ciphertext,
	}, true
}

// encrypted reports whether v is in the {...} form Jenkins uses for secrets at rest
func encrypted(v string) bool {
	return len(v) > 2 && strings.HasPrefix(v, "{") && strings.HasSuffix(v, "}")
}

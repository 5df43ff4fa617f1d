package models

import "fmt"

// CredentialRecord is one encrypted secret read from the Jenkins credentials store.
// Ciphertext is opaque, typically of the form {AQAAAB...}.
type CredentialRecord struct {
	ID          string `json:"id"`
	Ciphertext  string `json:"ciphertext"`
	Description string `json:"description,omitempty"` // Only used for filtering upstream
}

// DecryptionResult is the outcome for exactly one CredentialRecord
type DecryptionResult struct {
	ID        string `json:"id"`
	Plaintext string `json:"-"`
	Err       *Error `json:"error,omitempty"`
}

// Decrypted builds a successful result
func Decrypted(id, plaintext string) DecryptionResult {
	return DecryptionResult{ID: id, Plaintext: plaintext}
}

// Failed builds a failed result
func Failed(id string, kind ErrorKind, message string) DecryptionResult {
	return DecryptionResult{ID: id, Err: NewError(kind, message)}
}

// FailedWith builds a failed result from an error, keeping its kind when typed
func FailedWith(id string, err error) DecryptionResult {
	return DecryptionResult{ID: id, Err: AsError(err)}
}

// OK reports whether the record was decrypted
func (r DecryptionResult) OK() bool {
	return r.Err == nil
}

// Kind returns the failure kind, or "" on success
func (r DecryptionResult) Kind() ErrorKind {
	if r.Err == nil {
		return ""
	}
	return r.Err.Kind
}

// ValidateRecords checks that a batch is non-empty where required and that IDs are unique
func ValidateRecords(records []CredentialRecord) error {
	seen := make(map[string]struct{}, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("record %d has an empty id", i)
		}
		if _, dup := seen[rec.ID]; dup {
			return fmt.Errorf("duplicate record id: %s", rec.ID)
		}
		seen[rec.ID] = struct{}{}
	}
	return nil
}

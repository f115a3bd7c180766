package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainSubmission separates submission ids from any other hash the
// system may compute. The suffix allows changing the algorithm later.
const DomainSubmission = "formsheet/submission/v1"

// Hash computes SHA256(domain || 0x00 || data) as lowercase hex.
func Hash(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SubmissionID is the content address of one submission to one form.
// Key order, whitespace and Unicode normalisation of submission do not
// affect the id.
func SubmissionID(formID string, submission []byte) (string, error) {
	data, err := Marshal(submission)
	if err != nil {
		return "", fmt.Errorf("submission id: %w", err)
	}

	// {"data":<canonical>,"formId":"<id>"}; keys already in canonical order.
	var buf bytes.Buffer
	buf.WriteString(`{"data":`)
	buf.Write(data)
	buf.WriteString(`,"formId":`)
	writeString(&buf, formID)
	buf.WriteByte('}')

	return Hash(DomainSubmission, buf.Bytes()), nil
}

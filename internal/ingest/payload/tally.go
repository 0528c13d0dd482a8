package payload

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormType is the Tally form a submission came from.
type FormType string

const (
	FormApplication FormType = "APPLICATION"
	FormDiagnosis   FormType = "DIAGNOSIS"
	FormUnknown     FormType = "UNKNOWN"
)

// Default Tally form ids.
const (
	DefaultApplicationFormID = "81qKPr"
	DefaultDiagnosisFormID   = "44agLB"
)

// FormIDs maps configured form ids to types.
type FormIDs struct {
	Application string
	Diagnosis   string
}

// Classify resolves a form id.
func (f FormIDs) Classify(formID string) FormType {
	switch {
	case formID != "" && formID == f.Application:
		return FormApplication
	case formID != "" && formID == f.Diagnosis:
		return FormDiagnosis
	default:
		return FormUnknown
	}
}

type tallyField struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

type tallyBody struct {
	EventID string `json:"eventId"`
	Data    *struct {
		ResponseID   string       `json:"responseId"`
		SubmissionID string       `json:"submissionId"`
		FormID       string       `json:"formId"`
		Fields       []tallyField `json:"fields"`
	} `json:"data"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	NameKo  string `json:"이름"`
	PhoneKo string `json:"전화번호"`
}

// Tally is a form submission reduced to what matching needs.
type Tally struct {
	ResponseID string
	FormID     string
	Name       string
	Phone      string
}

// ParseTally maps a Tally webhook body. Labelled fields win over the flat
// name/phone fallbacks.
func ParseTally(raw []byte) (Tally, error) {
	var body tallyBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return Tally{}, fmt.Errorf("payload: decode tally: %w", err)
	}
	var t Tally
	if body.Data != nil {
		t.FormID = body.Data.FormID
		t.ResponseID = firstNonEmpty(body.Data.ResponseID, body.Data.SubmissionID)
		for _, f := range body.Data.Fields {
			label := strings.ToLower(f.Label)
			if strings.Contains(label, "이름") || strings.Contains(label, "name") {
				t.Name = stringify(f.Value)
			}
			if strings.Contains(label, "전화") || strings.Contains(label, "phone") || strings.Contains(label, "연락처") {
				t.Phone = stringify(f.Value)
			}
		}
	}
	if t.ResponseID == "" {
		t.ResponseID = body.EventID
	}
	if t.Name == "" {
		t.Name = firstNonEmpty(body.NameKo, body.Name)
	}
	if t.Phone == "" {
		t.Phone = firstNonEmpty(body.PhoneKo, body.Phone)
	}
	return t, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

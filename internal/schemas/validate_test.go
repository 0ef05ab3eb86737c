package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRecords(t *testing.T) {
	valid := []byte(`{
		"x64_ov": [
			{"id": "3", "TestcaseName": "Prediction_Stage_x64_ov.Prediction.qp", "Status": "succeeded"}
		],
		"arm64_npu": []
	}`)
	assert.NoError(t, ValidateRecords(valid))

	empty := []byte(`{}`)
	assert.NoError(t, ValidateRecords(empty))
}

func TestValidateRecordsRejectsWrongShape(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"array root", `[]`},
		{"platform not an array", `{"x64_ov": {"id": "3"}}`},
		{"record not an object", `{"x64_ov": ["3"]}`},
		{"id not a string", `{"x64_ov": [{"id": 3}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRecords([]byte(tt.doc))
			require.Error(t, err)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.NotEmpty(t, ve.Errors)
		})
	}
}

func TestValidateMetadata(t *testing.T) {
	valid := []byte(`{
		"repo_name": "perception",
		"repo_commit": "abc123",
		"repo_branch": "main",
		"trigger_type": "schedule",
		"triggered_by": "pipeline"
	}`)
	assert.NoError(t, ValidateMetadata(valid))

	partial := []byte(`{"repo_name": "perception"}`)
	assert.NoError(t, ValidateMetadata(partial))
}

func TestValidateMetadataRejectsWrongTypes(t *testing.T) {
	err := ValidateMetadata([]byte(`{"repo_name": 42}`))
	require.Error(t, err)

	err = ValidateMetadata([]byte(`["not", "an", "object"]`))
	require.Error(t, err)
}

func TestValidateUnparsableDocument(t *testing.T) {
	assert.Error(t, ValidateRecords([]byte(`{broken`)))
	assert.Error(t, ValidateMetadata([]byte(``)))
}

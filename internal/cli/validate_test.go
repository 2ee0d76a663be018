package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_ValidDefinitions(t *testing.T) {
	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), "testdata/defs")
	require.NoError(t, err)

	want := `✓ 2 table(s) valid

  sales (index id): id:int64, region:string, amount:float64
    sort: amount desc, id asc
    aggregate: sum(amount) by region
  stock (index sku): sku:string, on_hand:int64
`
	assert.Equal(t, want, out)
}

func TestValidate_SingleFile(t *testing.T) {
	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), "testdata/defs/tables.cue")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 2 table(s) valid")
}

func TestValidate_JSON(t *testing.T) {
	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "json"}), "testdata/defs")
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	require.Len(t, resp.Data.Tables, 2)
	assert.Equal(t, "sales", resp.Data.Tables[0].Name)
	assert.Equal(t, []string{"amount desc", "id asc"}, resp.Data.Tables[0].Sort)
	assert.Equal(t, []ColumnSummary{{Name: "sku", Kind: "string"}, {Name: "on_hand", Kind: "int64"}}, resp.Data.Tables[1].Columns)
}

func TestValidate_CollectsEveryError(t *testing.T) {
	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "json"}), "testdata/broken")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "validation failed with 3 error(s)")

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)

	codes := make([]string, len(resp.Data.Errors))
	for i, e := range resp.Data.Errors {
		codes[i] = e.Code
	}
	assert.ElementsMatch(t, []string{"E202", "E203", "E205"}, codes)
}

func TestValidate_TextErrors(t *testing.T) {
	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), "testdata/broken")
	require.Error(t, err)
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, `E203: table orders: [E203] sort[0].column: sort column "placed" is not declared`)
}

func TestValidate_LoadErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
		code  string
	}{
		{
			name:  "missing path",
			setup: func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope") },
			code:  ErrCodeNotFound,
		},
		{
			name:  "no cue files",
			setup: func(t *testing.T) string { return t.TempDir() },
			code:  ErrCodeNoFiles,
		},
		{
			name: "syntax error",
			setup: func(t *testing.T) string {
				path := filepath.Join(t.TempDir(), "bad.cue")
				require.NoError(t, os.WriteFile(path, []byte("tables: {\n"), 0644))
				return path
			},
			code: ErrCodeBuildFailed,
		},
		{
			name: "no tables",
			setup: func(t *testing.T) string {
				path := filepath.Join(t.TempDir(), "empty.cue")
				require.NoError(t, os.WriteFile(path, []byte("other: 1\n"), 0644))
				return path
			},
			code: ErrCodeNoTables,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, NewValidateCommand(&RootOptions{Format: "json"}), tt.setup(t))
			require.Error(t, err)

			var resp CLIResponse
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestMapFieldToErrorCode(t *testing.T) {
	assert.Equal(t, ErrCodeNoTables, MapFieldToErrorCode("tables"))
	assert.Equal(t, ErrCodeMissingField, MapFieldToErrorCode("index"))
	assert.Equal(t, ErrCodeColumns, MapFieldToErrorCode("columns"))
	assert.Equal(t, ErrCodeInvalidKind, MapFieldToErrorCode("type"))
	assert.Equal(t, ErrCodeInvalidOrder, MapFieldToErrorCode("sort.order"))
	assert.Equal(t, ErrCodeGeneric, MapFieldToErrorCode("cue"))
}

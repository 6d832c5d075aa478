package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFieldRegistry(t *testing.T) {
	t.Parallel()

	fields := []FieldDefinition{
		{FieldName: "namedInsured", BusinessDescription: "Legal name", WhereToLook: "application, email"},
		{FieldName: "yearBuilt", BusinessDescription: "Original construction year", WhereToLook: "sov"},
		{FieldName: "totalIncurred", WhereToLook: ""},
	}

	reg := NewFieldRegistry(fields)

	t.Run("ByName returns correct definition", func(t *testing.T) {
		t.Parallel()
		f := reg.ByName("yearBuilt")
		require.NotNil(t, f)
		assert.Equal(t, "Original construction year", f.BusinessDescription)
	})

	t.Run("ByName returns nil for unknown name", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, reg.ByName("nonexistent"))
	})

	t.Run("Len counts names", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, 3, reg.Len())
	})
}

func TestFieldRegistry_Nil(t *testing.T) {
	t.Parallel()

	var reg *FieldRegistry
	assert.Nil(t, reg.ByName("x"))
	assert.Equal(t, 0, reg.Len())
}

func TestFieldDefinition_Sections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		where string
		want  []string
	}{
		{"empty", "", nil},
		{"single", "sov", []string{"sov"}},
		{"ordered list", "Loss Run, email", []string{"loss_run", "email"}},
		{"aliases", "Statement of Values; body", []string{"sov", "email"}},
		{"dedupes", "sov, SOV, sov", []string{"sov"}},
		{"drops unknown", "website, schedule", []string{"schedule"}},
		{"arrow separated", "acord > questionnaire", []string{"application", "questionnaire"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := &FieldDefinition{WhereToLook: tt.where}
			assert.Equal(t, tt.want, d.Sections())
		})
	}
}

func TestIsValidSource(t *testing.T) {
	t.Parallel()

	assert.True(t, IsValidSource("email"))
	assert.True(t, IsValidSource("loss_run"))
	assert.True(t, IsValidSource("other"))
	assert.False(t, IsValidSource(""))
	assert.False(t, IsValidSource("website"))
}

func TestProcessingStatus_IsTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusDone.IsTerminal())
	assert.True(t, StatusError.IsTerminal())
}

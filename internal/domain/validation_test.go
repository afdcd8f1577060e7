package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFields() TicketFields {
	return TicketFields{
		Title:       "Printer on floor 3 is jammed",
		Description: "The shared printer rejects every job since this morning",
		Status:      TicketStatusOpen,
		Priority:    TicketPriorityMedium,
		Requester:   Requester{Name: "Ana", Email: "ana@empresa.com"},
		Tags:        []string{"erp", "hardware"},
	}
}

func TestValidateFieldsAcceptsValidTicket(t *testing.T) {
	assert.Nil(t, ValidateFields(validFields()))
}

func TestValidateFieldsRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*TicketFields)
		field  string
	}{
		{"short title", func(f *TicketFields) { f.Title = "abc " }, "title"},
		{"long title", func(f *TicketFields) { f.Title = strings.Repeat("a", 81) }, "title"},
		{"numeric title", func(f *TicketFields) { f.Title = "123 456" }, "title"},
		{"short description", func(f *TicketFields) { f.Description = "too short" }, "description"},
		{"missing requester", func(f *TicketFields) { f.Requester.Name = " " }, "requester.name"},
		{"bad email", func(f *TicketFields) { f.Requester.Email = "not-an-email" }, "requester.email"},
		{"bad status", func(f *TicketFields) { f.Status = "DONE" }, "status"},
		{"bad priority", func(f *TicketFields) { f.Priority = "URGENT" }, "priority"},
		{"too many tags", func(f *TicketFields) { f.Tags = []string{"a", "b", "c", "d", "e", "f"} }, "tags"},
		{"duplicate tags", func(f *TicketFields) { f.Tags = []string{"ERP", "erp"} }, "tags"},
		{"empty tag", func(f *TicketFields) { f.Tags = []string{"  "} }, "tags"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fields := validFields()
			tc.mutate(&fields)
			errs := ValidateFields(fields)
			require.NotNil(t, errs)
			assert.Contains(t, errs, tc.field)
		})
	}
}

func TestFieldErrorsMessageIsSorted(t *testing.T) {
	errs := FieldErrors{"title": "bad", "description": "short"}
	assert.Equal(t, "description: short; title: bad", errs.Error())
}

package types

import "testing"

func TestCatalogEntryField(t *testing.T) {
	entry := &CatalogEntry{
		Fields: []FieldDef{
			{Name: "device_id", Type: FieldTypeString},
			{Name: "temperature", Type: FieldTypeNumber, Nullable: true},
		},
	}

	f := entry.Field("temperature")
	if f == nil {
		t.Fatal("expected a definition for temperature")
	}
	if f.Type != FieldTypeNumber || !f.Nullable {
		t.Errorf("unexpected definition: %+v", f)
	}

	if got := entry.Field("vibration"); got != nil {
		t.Errorf("expected nil for unknown field, got %+v", got)
	}
}

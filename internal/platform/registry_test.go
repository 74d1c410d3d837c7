package platform

import "testing"

// ---------------------------------------------------------------------------
// TenantStatus
// ---------------------------------------------------------------------------

func TestTenantStatus_Valid(t *testing.T) {
	if !StatusActive.Valid() || !StatusSuspended.Valid() {
		t.Error("expected active and suspended to be valid")
	}
	for _, s := range []TenantStatus{"", "deleted", "ACTIVE", "paused"} {
		if s.Valid() {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

// ---------------------------------------------------------------------------
// ValidateSchemaName (platform wrapper)
// ---------------------------------------------------------------------------

func TestValidateSchemaName_WrapsAsValidationError(t *testing.T) {
	err := ValidateSchemaName("public")
	if err == nil {
		t.Fatal("expected error for reserved name")
	}
	if KindOf(err) != KindValidation {
		t.Errorf("expected validation kind, got %v", err)
	}
}

func TestValidateSchemaName_AcceptsGoodName(t *testing.T) {
	if err := ValidateSchemaName("acme_corp"); err != nil {
		t.Errorf("expected acme_corp to validate, got %v", err)
	}
}

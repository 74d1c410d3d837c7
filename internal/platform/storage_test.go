package platform

import "testing"

// ---------------------------------------------------------------------------
// TenantBucketName
// ---------------------------------------------------------------------------

func TestTenantBucketName_MapsUnderscores(t *testing.T) {
	s := &StorageCleaner{prefix: "tenant-"}
	if got := s.TenantBucketName("acme_corp"); got != "tenant-acme-corp" {
		t.Errorf("expected 'tenant-acme-corp', got %q", got)
	}
}

func TestTenantBucketName_NoPrefix(t *testing.T) {
	s := &StorageCleaner{}
	if got := s.TenantBucketName("acme"); got != "acme" {
		t.Errorf("expected 'acme', got %q", got)
	}
}

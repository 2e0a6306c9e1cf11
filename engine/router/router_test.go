package router

import (
	"testing"

	"github.com/nexusmem/graphrag/engine/domain"
)

func TestValidateRejectsEmptyContent(t *testing.T) {
	r := &Router{}
	err := r.validate(WriteRequest{
		Tenant:  domain.Tenant{CompanyID: "acme", AppID: "assistant", UserID: "user-1"},
		Content: "",
	})
	if err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestValidateRejectsInvalidTenant(t *testing.T) {
	r := &Router{}
	err := r.validate(WriteRequest{
		Tenant:  domain.Tenant{},
		Content: "some memory content",
	})
	if err == nil {
		t.Fatal("expected error for invalid tenant")
	}
}

func TestValidateAcceptsWellFormedRequest(t *testing.T) {
	r := &Router{}
	err := r.validate(WriteRequest{
		Tenant:  domain.Tenant{CompanyID: "acme", AppID: "assistant", UserID: "user-1"},
		Content: "some memory content",
	})
	if err != nil {
		t.Fatalf("expected valid request to pass, got %v", err)
	}
}

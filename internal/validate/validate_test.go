package validate

import (
	"errors"
	"strings"
	"testing"
)

type loginRequest struct {
	Username string `json:"username" validate:"required,min=3"`
	Password string `json:"password" validate:"required"`
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	v := New()

	err := v.Struct(loginRequest{Username: "ab"}, "en")
	var fe *FieldsError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FieldsError, got %v", err)
	}
	if _, ok := fe.Fields["username"]; !ok {
		t.Errorf("missing username failure: %v", fe.Fields)
	}
	if _, ok := fe.Fields["password"]; !ok {
		t.Errorf("missing password failure: %v", fe.Fields)
	}
	if !strings.Contains(fe.Error(), "password") {
		t.Errorf("Error() = %q", fe.Error())
	}
}

func TestStructValid(t *testing.T) {
	v := New()
	if err := v.Struct(loginRequest{Username: "alice", Password: "pw"}, "zh"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDecodeJSON(t *testing.T) {
	v := New()

	var req loginRequest
	if err := v.DecodeJSON(strings.NewReader(`{"username":"alice","password":"pw"}`), &req, "en"); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if req.Username != "alice" {
		t.Errorf("username = %q", req.Username)
	}

	if err := v.DecodeJSON(strings.NewReader(`{"username":"alice","extra":1}`), &req, "en"); err == nil {
		t.Error("expected unknown field to be rejected")
	}
}

package parser

import (
	"strings"
	"testing"
)

func TestValidateParser_NilParser(t *testing.T) {
	res := ValidateParser(nil)
	if res.Valid {
		t.Error("nil parser must not validate")
	}
}

func TestValidateParser_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Descriptor)
		wantErr string
	}{
		{"empty id", func(d *Descriptor) { d.ID = "" }, "id is empty"},
		{"uppercase id", func(d *Descriptor) { d.ID = "MyParser" }, "malformed"},
		{"id with spaces", func(d *Descriptor) { d.ID = "my parser" }, "malformed"},
		{"leading dash", func(d *Descriptor) { d.ID = "-parser" }, "malformed"},
		{"empty log source", func(d *Descriptor) { d.LogSource = "" }, "log source is empty"},
		{"bad format", func(d *Descriptor) { d.Format = "protobuf" }, "unknown format"},
		{"bad category", func(d *Descriptor) { d.Category = "gaming" }, "unknown category"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeParser("good-id", "syslog", CategoryAuthentication, 50)
			tt.mutate(&p.desc)

			res := ValidateParser(p)
			if res.Valid {
				t.Fatal("expected validation failure")
			}
			found := false
			for _, e := range res.Errors {
				if strings.Contains(e, tt.wantErr) {
					found = true
				}
			}
			if !found {
				t.Errorf("errors %v missing %q", res.Errors, tt.wantErr)
			}
		})
	}
}

func TestValidateParser_WarningsDoNotBlock(t *testing.T) {
	p := newFakeParser("ok", "syslog", CategorySystem, 150)
	p.desc.Name = ""
	p.desc.Vendor = ""
	p.desc.Version = ""

	res := ValidateParser(p)
	if !res.Valid {
		t.Fatalf("expected valid result, errors: %v", res.Errors)
	}
	if len(res.Warnings) != 4 {
		t.Errorf("warnings = %d (%v), want 4", len(res.Warnings), res.Warnings)
	}
}

func TestValidateParser_CleanDescriptor(t *testing.T) {
	res := ValidateParser(newFakeParser("aws-cloudtrail", "aws-cloudtrail", CategoryCloud, 70))
	if !res.Valid {
		t.Fatalf("expected valid, errors: %v", res.Errors)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
}

package toolcontract

import "testing"

func readFileContract() Contract {
	return Contract{
		ToolName: "read_file",
		Fields: []Field{
			{Name: "path", Type: TypeString, Required: true},
			{Name: "max_bytes", Type: TypeInteger, Required: false},
		},
	}
}

func TestValidateAcceptsWellFormedArgs(t *testing.T) {
	c := readFileContract()
	problems := c.Validate(map[string]any{"path": "README.md"})
	if len(problems) != 0 {
		t.Errorf("Validate() = %v, want no problems", problems)
	}
}

func TestValidateRejectsMissingRequired(t *testing.T) {
	c := readFileContract()
	problems := c.Validate(map[string]any{"max_bytes": float64(100)})
	if len(problems) != 1 {
		t.Fatalf("Validate() = %v, want 1 problem", problems)
	}
}

func TestValidateRejectsWrongType(t *testing.T) {
	c := readFileContract()
	problems := c.Validate(map[string]any{"path": 123})
	if len(problems) != 1 {
		t.Fatalf("Validate() = %v, want 1 type problem", problems)
	}
}

func TestValidateRejectsUnknownArgument(t *testing.T) {
	c := readFileContract()
	problems := c.Validate(map[string]any{"path": "README.md", "extra_arg": "oops"})
	if len(problems) != 1 {
		t.Fatalf("Validate() = %v, want 1 unsupported-argument problem", problems)
	}
}

func TestValidateCanonicalErrorStrings(t *testing.T) {
	c := Contract{
		ToolName: "edit_lines",
		Fields: []Field{
			{Name: "path", Type: TypeString, Required: true},
			{Name: "startLine", Type: TypeInteger, Required: true},
		},
	}

	problems := c.Validate(map[string]any{"path": "chat.py", "startLine": true})
	if len(problems) != 1 || problems[0] != "Argument 'startLine' must be an integer." {
		t.Fatalf("Validate() = %v, want exactly [\"Argument 'startLine' must be an integer.\"]", problems)
	}

	problems = c.Validate(map[string]any{"path": "chat.py", "startLine": 1, "bogus": "x"})
	if len(problems) != 1 || problems[0] != "Unsupported argument 'bogus'." {
		t.Fatalf("Validate() = %v, want exactly [\"Unsupported argument 'bogus'.\"]", problems)
	}
}

func TestRegistryValidateUnknownTool(t *testing.T) {
	r := NewRegistry(readFileContract())
	problems := r.Validate("delete_everything", map[string]any{})
	if len(problems) != 1 {
		t.Fatalf("Validate() = %v, want 1 unknown-tool problem", problems)
	}
}

func TestJSONSchemaMarksAdditionalPropertiesFalse(t *testing.T) {
	c := readFileContract()
	schema := c.JSONSchema()
	if schema.AdditionalProperties == nil {
		t.Fatal("expected AdditionalProperties to be set to a false-schema")
	}
	if schema.AdditionalProperties.Not == nil {
		t.Error("expected additionalProperties to be the not-{} false schema")
	}
}

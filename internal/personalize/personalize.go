// Package personalize renders {{key}} placeholders in template fields
// against a contact record. Substitution is flat string replacement, not a
// templating language; unknown keys are left verbatim so a typo never
// breaks a send. No HTML escaping is performed.
package personalize

import "strings"

// Sender is the sending identity visible to templates via {{myName}}.
type Sender struct {
	Name string
}

// Recipient carries the contact fields templates can reference.
type Recipient struct {
	Email        string
	Name         string
	Company      string
	Position     string
	LinkedinURL  string
	CustomFields map[string]string
}

func fallback(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "there"
	}
	return fields[0]
}

// Render substitutes the built-in placeholders, then the contact's custom
// fields. Pure and idempotent: re-rendering the output is a no-op as long
// as no replacement value itself contains a placeholder.
func Render(s string, r Recipient, sender Sender) string {
	builtins := [][2]string{
		{"{{name}}", fallback(r.Name, "there")},
		{"{{firstName}}", firstName(r.Name)},
		{"{{email}}", r.Email},
		{"{{company}}", fallback(r.Company, "your company")},
		{"{{position}}", fallback(r.Position, "your role")},
		{"{{linkedin}}", r.LinkedinURL},
		{"{{myName}}", sender.Name},
	}
	for _, kv := range builtins {
		s = strings.ReplaceAll(s, kv[0], kv[1])
	}
	for k, v := range r.CustomFields {
		s = strings.ReplaceAll(s, "{{"+k+"}}", v)
	}
	return s
}

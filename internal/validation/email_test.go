package validation

import "testing"

func TestEmailValid(t *testing.T) {
	valid := []string{
		"learner@example.com",
		"first.last@sub.example.co.uk",
		"user+tag@example.io",
		"o'brien@example.ie",
		`"quoted(user)"@example.com`,
		"UPPER@EXAMPLE.COM",
		"x@xn--fiqs8s.cn",
	}
	for _, v := range valid {
		if err := Email(v); err != nil {
			t.Errorf("Email(%q) = %v, want nil", v, err)
		}
	}
}

func TestEmailInvalid(t *testing.T) {
	invalid := []string{
		"",
		"no-at-sign.example.com",
		"nodot@localhost",
		"@example.com",
		"user@",
		"user@@example.com",
		".leading@example.com",
		"trailing.@example.com",
		"double..dot@example.com",
		"user@-example.com",
		"user@example.com-",
		"user@example.c",
		"sp ace@example.com",
		"user@exa_mple.com",
	}
	for _, v := range invalid {
		if err := Email(v); err != ErrInvalidEmail {
			t.Errorf("Email(%q) = %v, want ErrInvalidEmail", v, err)
		}
	}
}

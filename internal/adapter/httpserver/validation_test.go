package httpserver

import "testing"

func TestValidateTicker(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		valid bool
		code  string
	}{
		{"empty", "", false, "INVALID_FORMAT"},
		{"too_long", "ABCDEFG", false, "INVALID_FORMAT"},
		{"simple", "AAPL", true, ""},
		{"class_suffix", "BRK.A", true, ""},
		{"lowercase_normalized", "aapl", true, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := ValidateTicker(NormalizeTicker(tc.raw))
			if res.Valid != tc.valid {
				t.Fatalf("Valid=%v, want %v", res.Valid, tc.valid)
			}
			if !tc.valid && (len(res.Errors) != 1 || res.Errors[0].Code != tc.code) {
				t.Fatalf("unexpected error: %+v", res.Errors)
			}
		})
	}
}

func TestValidateEmail(t *testing.T) {
	if !ValidateEmail("user@example.com").Valid {
		t.Fatalf("expected valid email")
	}
	if ValidateEmail("not-an-email").Valid {
		t.Fatalf("expected invalid email")
	}
	if ValidateEmail("user'--@example.com").Valid {
		t.Fatalf("expected injection sequence to be rejected")
	}
}

func TestValidatePassword(t *testing.T) {
	if ValidatePassword("short1A").Valid {
		t.Fatalf("expected too-short password to be invalid")
	}
	if ValidatePassword("alllowercase1").Valid {
		t.Fatalf("expected missing-uppercase password to be invalid")
	}
	if !ValidatePassword("GoodPass1").Valid {
		t.Fatalf("expected valid password")
	}
}

func TestValidateSearchQuery(t *testing.T) {
	if ValidateSearchQuery("").Valid {
		t.Fatalf("empty query should be invalid")
	}

	long := makeString(101, 'a')
	res := ValidateSearchQuery(long)
	if res.Valid || res.Errors[0].Code != "TOO_LONG" {
		t.Fatalf("expected TOO_LONG error, got %+v", res)
	}

	res = ValidateSearchQuery("ok query")
	if !res.Valid {
		t.Fatalf("simple query should be valid")
	}

	res = ValidateSearchQuery("bad!query")
	if res.Valid || res.Errors[0].Code != "INVALID_FORMAT" {
		t.Fatalf("expected INVALID_FORMAT error, got %+v", res)
	}
}

func TestValidatePagination(t *testing.T) {
	if !ValidatePagination("", 100).Valid {
		t.Fatalf("empty limit should be valid")
	}
	if !ValidatePagination("50", 100).Valid {
		t.Fatalf("in-range limit should be valid")
	}
	if ValidatePagination("0", 100).Valid {
		t.Fatalf("zero limit should be invalid")
	}
	if ValidatePagination("101", 100).Valid {
		t.Fatalf("out-of-range limit should be invalid")
	}
}

func TestValidateAlertCondition(t *testing.T) {
	if !ValidateAlertCondition("above").Valid {
		t.Fatalf("above should be valid")
	}
	if !ValidateAlertCondition("below").Valid {
		t.Fatalf("below should be valid")
	}
	if ValidateAlertCondition("sideways").Valid {
		t.Fatalf("sideways should be invalid")
	}
}

func TestValidateNotificationChannels(t *testing.T) {
	if ValidateNotificationChannels(nil).Valid {
		t.Fatalf("empty channels should be invalid")
	}
	if !ValidateNotificationChannels([]string{"in-app", "email"}).Valid {
		t.Fatalf("known channels should be valid")
	}
	if ValidateNotificationChannels([]string{"carrier-pigeon"}).Valid {
		t.Fatalf("unknown channel should be invalid")
	}
}

func TestSanitizeString(t *testing.T) {
	in := "  hello\x00world  "
	out := SanitizeString(in)
	if out != "helloworld" {
		t.Fatalf("SanitizeString output=%q", out)
	}

	long := makeString(1500, 'a')
	out = SanitizeString(long)
	if len(out) != 1000 {
		t.Fatalf("expected length 1000, got %d", len(out))
	}
}

func makeString(n int, ch rune) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = ch
	}
	return string(b)
}
